// Package block implements the immutable, sorted, filter- and
// manifest-indexed run of revisions described in spec section 4.1. A
// Block is mutable until its Sync method is called exactly once;
// thereafter it is a read-only handle backed by three sibling files.
package block

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/azmodb/concourse/pkg/bloomfilter"
	"github.com/azmodb/concourse/pkg/manifest"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/wire"
)

var (
	// ErrImmutable is the IllegalState error raised when Insert is called
	// on a block that has already transitioned to immutable.
	ErrImmutable = errors.New("block: insert on immutable block")
	// ErrAlreadySynced is raised on a second call to Sync.
	ErrAlreadySynced = errors.New("block: sync called more than once")
)

// Stats mirrors spec section 3's per-block stats: schema version, the
// min/max revision version it carries, and its revision count.
type Stats struct {
	SchemaVersion int
	MinVersion    uint64
	MaxVersion    uint64
	Count         int
}

// entry is one revision held in the mutable block's sorted run.
type entry struct {
	wire.Revision
}

// Block is a sorted, immutable (once synced) collection of revisions
// sharing a family. See the package doc.
type Block struct {
	ID     uint64
	Dir    string // directory holding <id>.blk / .fltr / .indx
	Family string // "cpb" | "csb" | "ctb"

	mu       sync.RWMutex // master lock: shared reads, exclusive insert/sync
	mutable  bool
	revs     []entry // sorted by (locator,key,version) while mutable
	filter   *bloomfilter.Filter
	man      *manifest.Manifest
	stats    Stats
	synced   int32 // atomic guard, belt-and-suspenders with mu
	source   storeio.ByteSource
}

// New creates a mutable Block ready to accept insertions. expectedInsertions sizes
// the bloom filter (see spec section 6's default 3% false-positive rate).
func New(id uint64, dir, family string, expectedInsertions int) *Block {
	return &Block{
		ID:      id,
		Dir:     dir,
		Family:  family,
		mutable: true,
		filter:  bloomfilter.New(expectedInsertions, 0),
	}
}

func (b *Block) blkPath() string  { return filepath.Join(b.Dir, fmt.Sprintf("%d.blk", b.ID)) }
func (b *Block) fltrPath() string { return filepath.Join(b.Dir, fmt.Sprintf("%d.fltr", b.ID)) }
func (b *Block) indxPath() string { return filepath.Join(b.Dir, fmt.Sprintf("%d.indx", b.ID)) }

func compareKey(a, b entry) int {
	if c := bytes.Compare(a.Locator, b.Locator); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	switch {
	case a.Version < b.Version:
		return -1
	case a.Version > b.Version:
		return 1
	default:
		return 0
	}
}

// Insert appends a new revision. It is permitted only while the block is
// mutable; calling it after Sync returns ErrImmutable.
func (b *Block) Insert(locator, key, value []byte, version uint64, action wire.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.mutable {
		return ErrImmutable
	}

	e := entry{wire.Revision{Action: action, Version: version, Locator: locator, Key: key, Value: value}}
	i := sort.Search(len(b.revs), func(i int) bool { return compareKey(b.revs[i], e) >= 0 })
	b.revs = append(b.revs, entry{})
	copy(b.revs[i+1:], b.revs[i:])
	b.revs[i] = e

	b.filter.Add(locator, key, value)
	b.stats.Count++
	if b.stats.Count == 1 || version < b.stats.MinVersion {
		b.stats.MinVersion = version
	}
	if version > b.stats.MaxVersion {
		b.stats.MaxVersion = version
	}
	return nil
}

// MightContain consults the bloom filter for (locator[,key[,value]]).
// false means guaranteed absent; true means possibly present.
func (b *Block) MightContain(locator, key, value []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.filter == nil {
		return true
	}
	return b.filter.MightContain(locator, key, value)
}

// Size returns the number of revisions currently held.
func (b *Block) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats.Count
}

// Stats returns a copy of the block's stats.
func (b *Block) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// Mutable reports whether the block still accepts inserts.
func (b *Block) Mutable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mutable
}

// Seek returns revisions matching the (locator[,key]) prefix in sorted
// order. While mutable it walks the in-memory sorted slice; once
// immutable it maps the manifest-identified byte range and parses
// revisions from the block file.
func (b *Block) Seek(locator, key []byte) ([]wire.Revision, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.mutable {
		return b.seekMutable(locator, key), nil
	}
	return b.seekImmutable(locator, key)
}

func (b *Block) seekMutable(locator, key []byte) []wire.Revision {
	lo := entry{wire.Revision{Locator: locator}}
	if key != nil {
		lo.Key = key
	}
	i := sort.Search(len(b.revs), func(i int) bool {
		if c := bytes.Compare(b.revs[i].Locator, locator); c != 0 {
			return c >= 0
		}
		if key == nil {
			return true
		}
		return bytes.Compare(b.revs[i].Key, key) >= 0
	})

	var out []wire.Revision
	for ; i < len(b.revs); i++ {
		r := b.revs[i]
		if !bytes.Equal(r.Locator, locator) {
			break
		}
		if key != nil && !bytes.Equal(r.Key, key) {
			break
		}
		out = append(out, r.Revision)
	}
	return out
}

func (b *Block) seekImmutable(locator, key []byte) ([]wire.Revision, error) {
	if b.man == nil || b.source == nil {
		return nil, errors.New("block: immutable block missing manifest or source")
	}
	rng, ok, err := b.man.Lookup(manifest.Hash(locator, key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	buf := make([]byte, rng.End-rng.Start)
	if _, err := b.source.ReadAt(buf, int64(rng.Start)); err != nil {
		return nil, err
	}

	var out []wire.Revision
	for len(buf) > 0 {
		payload, n, err := wire.DecodeLengthPrefixed(buf)
		if err != nil {
			return nil, err
		}
		rev, _, err := wire.DecodeRevision(payload)
		if err != nil {
			return nil, err
		}
		cp := wire.Revision{
			Action:  rev.Action,
			Version: rev.Version,
			Locator: append([]byte(nil), rev.Locator...),
			Key:     append([]byte(nil), rev.Key...),
			Value:   append([]byte(nil), rev.Value...),
		}
		out = append(out, cp)
		buf = buf[n:]
	}
	return out, nil
}

// All returns every revision in sorted order, regardless of mutability.
// Used by dedup and by crash-recovery scans.
func (b *Block) All() ([]wire.Revision, error) {
	b.mu.RLock()
	mutable := b.mutable
	source := b.source
	b.mu.RUnlock()
	if mutable {
		return b.seekMutableAll(), nil
	}
	if source == nil {
		return nil, errors.New("block: immutable block missing source")
	}

	size, err := source.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := source.ReadAt(buf, 0); err != nil {
			return nil, err
		}
	}

	var out []wire.Revision
	for len(buf) > 0 {
		payload, n, err := wire.DecodeLengthPrefixed(buf)
		if err != nil {
			return nil, err
		}
		rev, _, err := wire.DecodeRevision(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, wire.Revision{
			Action:  rev.Action,
			Version: rev.Version,
			Locator: append([]byte(nil), rev.Locator...),
			Key:     append([]byte(nil), rev.Key...),
			Value:   append([]byte(nil), rev.Value...),
		})
		buf = buf[n:]
	}
	return out, nil
}

func (b *Block) seekMutableAll() []wire.Revision {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]wire.Revision, len(b.revs))
	for i, e := range b.revs {
		out[i] = e.Revision
	}
	return out
}

