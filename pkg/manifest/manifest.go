// Package manifest implements the sparse byte-range index a Block file
// carries: for every distinct locator and (locator,key) prefix encountered
// during sorted iteration, the inclusive start / exclusive end byte offset
// of that prefix's revisions inside the block file (spec section 4.1).
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"sync"
)

// entrySize is the on-disk size of one (compositeHash:16 | start:8 | end:8)
// record, per spec section 6.
const entrySize = 16 + 8 + 8

// LazyThreshold is the entry-count above which a Manifest defers full
// materialization and serves queries via a streaming scan instead (spec
// section 4.1's "> configurable threshold, default ~64 KiB of entries").
const LazyThreshold = (64 * 1024) / entrySize

// Hash computes the 16-byte composite key for a locator, or a
// locator+key prefix when key is non-nil. Truncated SHA-256: the spec
// names a 16-byte hash without specifying an algorithm (see DESIGN.md).
func Hash(locator, key []byte) [16]byte {
	h := sha256.New()
	h.Write(locator)
	if key != nil {
		h.Write([]byte{0})
		h.Write(key)
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Range is a [Start, End) byte range inside a block file.
type Range struct {
	Start uint64
	End   uint64
}

// Entry pairs a composite hash with its byte range.
type Entry struct {
	Hash  [16]byte
	Range Range
}

// Encode serializes entries (already sorted by Hash) to w.
func Encode(w io.Writer, entries []Entry) error {
	buf := make([]byte, entrySize)
	for _, e := range entries {
		copy(buf[0:16], e.Hash[:])
		binary.BigEndian.PutUint64(buf[16:24], e.Range.Start)
		binary.BigEndian.PutUint64(buf[24:32], e.Range.End)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Builder accumulates Entry records while a Block is swept in sorted
// order during sync, emitting one entry per locator and per
// (locator,key) prefix boundary.
type Builder struct {
	entries    []Entry
	curLocator []byte
	curKey     []byte
	locStart   uint64
	keyStart   uint64
	haveLoc    bool
	haveKey    bool
}

// Observe records that the revision at the given locator/key starts at
// byte offset off and ends at end once it has been written. Observe
// must be called once per revision in ascending (locator,key) order.
func (b *Builder) Observe(locator, key []byte, off, end uint64) {
	if !b.haveLoc || !bytes.Equal(b.curLocator, locator) {
		b.closeKey(off)
		b.closeLocator(off)
		b.curLocator = append([]byte(nil), locator...)
		b.locStart = off
		b.haveLoc = true
		b.haveKey = false
	}
	if !b.haveKey || !bytes.Equal(b.curKey, key) {
		b.closeKey(off)
		b.curKey = append([]byte(nil), key...)
		b.keyStart = off
		b.haveKey = true
	}
	_ = end // the boundary is closed by the next Observe/Finish call
}

func (b *Builder) closeLocator(end uint64) {
	if b.haveLoc {
		b.entries = append(b.entries, Entry{Hash: Hash(b.curLocator, nil), Range: Range{b.locStart, end}})
	}
}

func (b *Builder) closeKey(end uint64) {
	if b.haveKey {
		b.entries = append(b.entries, Entry{Hash: Hash(b.curLocator, b.curKey), Range: Range{b.keyStart, end}})
	}
}

// Finish closes the trailing locator/key ranges at file length end and
// returns the entries sorted by composite hash.
func (b *Builder) Finish(end uint64) []Entry {
	b.closeKey(end)
	b.closeLocator(end)
	sort.Slice(b.entries, func(i, j int) bool {
		return bytes.Compare(b.entries[i].Hash[:], b.entries[j].Hash[:]) < 0
	})
	return b.entries
}

var ErrNotReady = errors.New("manifest: not yet materialized")

// Manifest serves Lookup queries for a sealed block's byte ranges. Small
// manifests are fully materialized eagerly; manifests above LazyThreshold
// entries are loaded on first use via a background goroutine, serving a
// streaming single-pass scan for any query that arrives first.
type Manifest struct {
	mu       sync.RWMutex
	byHash   map[[16]byte]Range
	ready    bool
	entries  []Entry // sorted, used for streaming scans before ready
	openOnce sync.Once
	open     func() (io.ReadCloser, error)
}

// New builds an already-materialized Manifest from entries.
func New(entries []Entry) *Manifest {
	m := &Manifest{byHash: make(map[[16]byte]Range, len(entries)), ready: true, entries: entries}
	for _, e := range entries {
		m.byHash[e.Hash] = e.Range
	}
	return m
}

// Open constructs a Manifest over a sibling ".indx" file opened lazily via
// opener. If entries exceeds LazyThreshold, materialization happens in
// the background and queries before it completes stream-scan the file.
func Open(opener func() (io.ReadCloser, error), entryCount int) *Manifest {
	m := &Manifest{open: opener}
	if entryCount <= LazyThreshold {
		if err := m.materializeSync(); err == nil {
			return m
		}
	}
	m.byHash = make(map[[16]byte]Range)
	go m.materializeAsync()
	return m
}

func (m *Manifest) materializeSync() error {
	r, err := m.open()
	if err != nil {
		return err
	}
	defer r.Close()

	entries, err := decodeAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.byHash = make(map[[16]byte]Range, len(entries))
	for _, e := range entries {
		m.byHash[e.Hash] = e.Range
	}
	m.entries = entries
	m.ready = true
	m.mu.Unlock()
	return nil
}

func (m *Manifest) materializeAsync() {
	_ = m.materializeSync()
}

func decodeAll(r io.Reader) ([]Entry, error) {
	var entries []Entry
	buf := make([]byte, entrySize)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		copy(e.Hash[:], buf[0:16])
		e.Range.Start = binary.BigEndian.Uint64(buf[16:24])
		e.Range.End = binary.BigEndian.Uint64(buf[24:32])
		entries = append(entries, e)
	}
	return entries, nil
}

// Lookup returns the byte range for hash. If the manifest is not yet
// materialized, it performs a streaming single-pass scan of the backing
// file; this is slower but always correct.
func (m *Manifest) Lookup(hash [16]byte) (Range, bool, error) {
	m.mu.RLock()
	ready := m.ready
	byHash := m.byHash
	m.mu.RUnlock()

	if ready {
		r, ok := byHash[hash]
		return r, ok, nil
	}
	return m.streamingLookup(hash)
}

func (m *Manifest) streamingLookup(hash [16]byte) (Range, bool, error) {
	r, err := m.open()
	if err != nil {
		return Range{}, false, err
	}
	defer r.Close()

	buf := make([]byte, entrySize)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return Range{}, false, nil
		}
		if err != nil {
			return Range{}, false, err
		}
		if bytes.Equal(buf[0:16], hash[:]) {
			return Range{
				Start: binary.BigEndian.Uint64(buf[16:24]),
				End:   binary.BigEndian.Uint64(buf[24:32]),
			}, true, nil
		}
	}
}

// Ready reports whether the manifest has been fully materialized.
func (m *Manifest) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Len returns the number of entries once materialized, 0 otherwise.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
