// Package page implements the memory-mapped, fixed-capacity WAL page
// described in spec section 4.2: a sequence of length-prefixed Write
// records behind an mmap region, with a 4-byte head cursor at offset 0
// tracking the smallest index not yet transported.
package page

import (
	"encoding/binary"
	"errors"
	"os"

	"github.com/edsrzf/mmap-go"
)

// State names the three page lifecycle states.
type State int

const (
	Active State = iota
	Sealed
	Exhausted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Sealed:
		return "sealed"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// headerSize is the fixed 4-byte head cursor at the front of every page.
const headerSize = 4

var (
	// ErrSealed is returned by Append when the page has no room left.
	ErrSealed = errors.New("page: sealed, insufficient capacity")
	// ErrOutOfRange is returned by ReadAt for an index beyond size.
	ErrOutOfRange = errors.New("page: index out of range")
)

// record describes one length-prefixed Write already appended to the
// page, by its byte offset and length (excluding the 4-byte prefix).
type record struct {
	offset int
	length int
}

// Page is a single memory-mapped WAL segment of fixed capacity.
type Page struct {
	path     string
	f        *os.File
	mm       mmap.MMap
	capacity int

	records []record // index -> (offset, length) of each appended Write
	tail    int       // next free byte offset, starts at headerSize
	head    int       // index of the next not-yet-transported Write
}

// Create allocates a new page file of the given capacity and maps it.
func Create(path string, capacity int) (*Page, error) {
	if capacity <= headerSize {
		return nil, errors.New("page: capacity too small")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		f.Close()
		return nil, err
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	binary.BigEndian.PutUint32(mm[0:headerSize], 0)

	return &Page{
		path:     path,
		f:        f,
		mm:       mm,
		capacity: capacity,
		tail:     headerSize,
		head:     0,
	}, nil
}

// Open reopens an existing page file, replaying its records to
// reconstruct the in-memory index and head cursor (spec section 4.2's
// crash-recovery requirement).
func Open(path string) (*Page, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	capacity := int(info.Size())
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	p := &Page{
		path:     path,
		f:        f,
		mm:       mm,
		capacity: capacity,
		tail:     headerSize,
	}
	p.head = int(binary.BigEndian.Uint32(mm[0:headerSize]))

	off := headerSize
	for off+4 <= capacity {
		n := int(binary.BigEndian.Uint32(mm[off : off+4]))
		if n == 0 || off+4+n > capacity {
			break // unwritten tail region
		}
		p.records = append(p.records, record{offset: off + 4, length: n})
		off += 4 + n
	}
	p.tail = off
	return p, nil
}

// State reports the page's current lifecycle state: active while it can
// still accept appends, sealed once full and awaiting transport,
// exhausted once every appended Write has also been transported.
func (p *Page) State() State {
	full := p.Remaining() < 4
	switch {
	case !full:
		return Active
	case p.head >= len(p.records):
		return Exhausted
	default:
		return Sealed
	}
}

// Size returns the number of Writes appended to the page so far.
func (p *Page) Size() int { return len(p.records) }

// Head returns the current head cursor: the index of the smallest Write
// not yet transported.
func (p *Page) Head() int { return p.head }

// Remaining reports the number of free bytes left for new records.
func (p *Page) Remaining() int { return p.capacity - p.tail }

// Append appends data as a new length-prefixed record and forces the
// mmap region, returning ErrSealed if there is not enough capacity left
// (the caller is expected to roll a new page and retry there).
func (p *Page) Append(data []byte) error {
	need := 4 + len(data)
	if p.Remaining() < need {
		return ErrSealed
	}

	off := p.tail
	binary.BigEndian.PutUint32(p.mm[off:off+4], uint32(len(data)))
	copy(p.mm[off+4:off+4+len(data)], data)
	if err := p.mm.Flush(); err != nil {
		return err
	}

	p.records = append(p.records, record{offset: off + 4, length: len(data)})
	p.tail = off + need
	return nil
}

// ReadAt returns the bytes of the Write at the given index. The
// returned slice aliases the mmap region and must not be retained past
// the page's lifetime.
func (p *Page) ReadAt(index int) ([]byte, error) {
	if index < 0 || index >= len(p.records) {
		return nil, ErrOutOfRange
	}
	r := p.records[index]
	return p.mm[r.offset : r.offset+r.length], nil
}

// AdvanceHead moves the head cursor forward by n and persists it to the
// page header, marking those Writes as transported.
func (p *Page) AdvanceHead(n int) error {
	head := p.head + n
	if head > len(p.records) {
		return ErrOutOfRange
	}
	binary.BigEndian.PutUint32(p.mm[0:headerSize], uint32(head))
	if err := p.mm.Flush(); err != nil {
		return err
	}
	p.head = head
	return nil
}

// Exhausted reports whether every appended Write has been transported.
func (p *Page) Exhausted() bool { return p.State() == Exhausted }

// Close unmaps and closes the underlying file without deleting it.
func (p *Page) Close() error {
	if err := p.mm.Unmap(); err != nil {
		p.f.Close()
		return err
	}
	return p.f.Close()
}

// Remove closes and deletes the page file; called once the page is
// fully exhausted.
func (p *Page) Remove() error {
	if err := p.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}

// Path returns the page's backing file path.
func (p *Page) Path() string { return p.path }
