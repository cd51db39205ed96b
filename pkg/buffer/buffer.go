// Package buffer implements the Buffer described in spec section 4.2: a
// sequence of memory-mapped Page segments forming an append-only WAL of
// Writes, transported in strict FIFO order to a Database.
package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/azmodb/concourse/pkg/bloomfilter"
	"github.com/azmodb/concourse/pkg/page"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/wire"
)

const pageExt = ".page"

// Destination receives Writes handed off by Transport, typically a
// Database's accept path.
type Destination interface {
	Accept(w wire.Write) error
}

// Buffer manages an ordered sequence of pages: the tail is always the
// currently active page; earlier pages are sealed or exhausted.
//
// mu is the "transport" lock named in spec section 4.2: Insert and
// Iterator take it for reading/appending, Transport takes it exclusively
// while draining the oldest page, matching "readers take a shared
// transport lock; transporters take the exclusive transport lock".
type Buffer struct {
	mu       sync.RWMutex
	dir      string
	capacity int
	clock    storeio.Clock

	pages  []*page.Page
	filter *bloomfilter.Filter
}

func pagePath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", id, pageExt))
}

// Create initializes a brand new, empty Buffer directory with a single
// active page.
func Create(dir string, capacity int, clock storeio.Clock) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	b := &Buffer{
		dir:      dir,
		capacity: capacity,
		clock:    clock,
		filter:   bloomfilter.New(1024, 0),
	}
	if err := b.rollPage(); err != nil {
		return nil, err
	}
	return b, nil
}

// Open performs the crash-recovery path described in spec section 4.2:
// it enumerates page files in creation order, replays each from its
// persisted head cursor to rebuild the bloom filter, and resumes
// appending to the last page (rolling a fresh one if it was full).
func Open(dir string, capacity int, clock storeio.Clock) (*Buffer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Create(dir, capacity, clock)
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), pageExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // zero-padded ids sort lexicographically == numerically

	b := &Buffer{
		dir:      dir,
		capacity: capacity,
		clock:    clock,
		filter:   bloomfilter.New(1024, 0),
	}
	for _, name := range names {
		p, err := page.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		b.pages = append(b.pages, p)
		for i := p.Head(); i < p.Size(); i++ {
			data, err := p.ReadAt(i)
			if err != nil {
				return nil, err
			}
			w, _, err := wire.DecodeWrite(data)
			if err != nil {
				return nil, err
			}
			b.filter.Add(w.Key, nil, w.Value)
		}
	}

	if len(b.pages) == 0 {
		return b, b.rollPage()
	}
	last := b.pages[len(b.pages)-1]
	if last.State() != page.Active {
		return b, b.rollPage()
	}
	return b, nil
}

func (b *Buffer) rollPage() error {
	p, err := page.Create(pagePath(b.dir, b.clock.Now()), b.capacity)
	if err != nil {
		return err
	}
	b.pages = append(b.pages, p)
	return nil
}

// Insert appends w to the current active page, rolling a new page if
// the active one lacks capacity, then forces the mmap region so the
// append is durable before returning.
func (b *Buffer) Insert(w wire.Write) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := w.Marshal()
	for {
		if len(b.pages) == 0 {
			if err := b.rollPage(); err != nil {
				return err
			}
		}
		active := b.pages[len(b.pages)-1]
		err := active.Append(data)
		if err == nil {
			b.filter.Add(w.Key, nil, w.Value)
			return nil
		}
		if err != page.ErrSealed {
			return err
		}
		if err := b.rollPage(); err != nil {
			return err
		}
	}
}

// MightContain consults the Buffer's bloom filter, which is populated
// as writes are inserted (and rebuilt from not-yet-transported writes
// during Open's crash recovery).
func (b *Buffer) MightContain(key, value []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.MightContain(key, nil, value)
}

// Iterator returns a snapshot of every Write currently in the Buffer, in
// insertion order. It tolerates concurrent appends: a write appended
// after the snapshot was taken may or may not be included.
func (b *Buffer) Iterator() ([]wire.Write, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []wire.Write
	for _, p := range b.pages {
		for i := 0; i < p.Size(); i++ {
			data, err := p.ReadAt(i)
			if err != nil {
				return nil, err
			}
			w, _, err := wire.DecodeWrite(data)
			if err != nil {
				return nil, err
			}
			out = append(out, w)
		}
	}
	return out, nil
}

// Transport moves up to rate ready Writes from the oldest page(s) to
// dest, in strict FIFO order, advancing each page's head cursor and
// deleting any page that becomes fully exhausted.
func (b *Buffer) Transport(dest Destination, rate int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	moved := 0
	for moved < rate && len(b.pages) > 0 {
		p := b.pages[0]
		for moved < rate && p.Head() < p.Size() {
			data, err := p.ReadAt(p.Head())
			if err != nil {
				return moved, err
			}
			w, _, err := wire.DecodeWrite(data)
			if err != nil {
				return moved, err
			}
			if err := dest.Accept(w); err != nil {
				return moved, err
			}
			if err := p.AdvanceHead(1); err != nil {
				return moved, err
			}
			moved++
		}
		// Only the last page still takes appends, so an earlier page whose
		// head has reached its size is done even if a few bytes are free.
		if p.Head() < p.Size() || (len(b.pages) == 1 && !p.Exhausted()) {
			break
		}
		if err := p.Remove(); err != nil {
			return moved, err
		}
		b.pages = b.pages[1:]
	}
	return moved, nil
}

// PageCount reports the number of pages currently tracked, for tests
// and diagnostics.
func (b *Buffer) PageCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pages)
}

// Close unmaps every page without deleting the underlying files.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, p := range b.pages {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
