// Package database implements the Database described in spec section
// 4.3: per-family sealed block lists plus one mutable block, Accept, and
// the Record cache backing select/find/search/browse reads. Writes enter
// only through Accept, one at a time; there is no segment merge path.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/azmodb/concourse/pkg/block"
	"github.com/azmodb/concourse/pkg/family"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/wire"
)

// DefaultRotateThreshold seals a family's mutable block and opens a
// fresh one once it holds this many revisions (spec section 4.3's
// "crosses a threshold").
const DefaultRotateThreshold = 4096

// familyStore holds one family's sealed blocks plus its current mutable
// block, and the lazily-built Record cache over both.
type familyStore struct {
	mu              sync.RWMutex
	dir             string
	kind            family.Kind
	clock           storeio.Clock
	rotateThreshold int
	expectedInserts int

	sealed  []*block.Block // oldest first
	mutable *block.Block

	records map[string]*family.Record // locator string -> cached Record
}

func newFamilyStore(dir string, kind family.Kind, clock storeio.Clock, rotateThreshold, expectedInserts int) (*familyStore, error) {
	famDir := filepath.Join(dir, kind.Dir())
	if err := os.MkdirAll(famDir, 0o700); err != nil {
		return nil, err
	}
	fs := &familyStore{
		dir:             famDir,
		kind:            kind,
		clock:           clock,
		rotateThreshold: rotateThreshold,
		expectedInserts: expectedInserts,
		records:         make(map[string]*family.Record),
	}
	fs.mutable = block.New(clock.Now(), famDir, kind.Dir(), expectedInserts)
	return fs, nil
}

// openFamilyStore recovers a family's sealed blocks from a catalog's
// recorded ids (spec section 4.3 + SPEC_FULL.md's block catalog
// supplement), then opens a fresh mutable block.
func openFamilyStore(dir string, kind family.Kind, clock storeio.Clock, rotateThreshold, expectedInserts int, sealedIDs []uint64) (*familyStore, error) {
	famDir := filepath.Join(dir, kind.Dir())
	if err := os.MkdirAll(famDir, 0o700); err != nil {
		return nil, err
	}
	fs := &familyStore{
		dir:             famDir,
		kind:            kind,
		clock:           clock,
		rotateThreshold: rotateThreshold,
		expectedInserts: expectedInserts,
		records:         make(map[string]*family.Record),
	}
	sort.Slice(sealedIDs, func(i, j int) bool { return sealedIDs[i] < sealedIDs[j] })
	for _, id := range sealedIDs {
		b, err := block.Load(id, famDir, kind.Dir(), expectedInserts)
		if err != nil {
			return nil, fmt.Errorf("database: loading sealed block %d for %s: %w", id, kind, err)
		}
		fs.sealed = append(fs.sealed, b)
	}
	fs.mutable = block.New(clock.Now(), famDir, kind.Dir(), expectedInserts)
	return fs, nil
}

// insert appends one revision to the mutable block, folds it into any
// cached Record for locator, and rotates the mutable block if it has
// crossed the configured threshold.
func (fs *familyStore) insert(locator, key, value []byte, version uint64, action wire.Action) (wire.Revision, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.mutable.Insert(locator, key, value, version, action); err != nil {
		return wire.Revision{}, err
	}
	rev := wire.Revision{Action: action, Version: version, Locator: locator, Key: key, Value: value}

	if rec, ok := fs.records[string(locator)]; ok {
		rec.Apply(rev)
	}

	if fs.mutable.Size() >= fs.rotateThreshold {
		if err := fs.rotateLocked(); err != nil {
			return rev, err
		}
	}
	return rev, nil
}

func (fs *familyStore) rotateLocked() error {
	if err := fs.mutable.Sync(); err != nil {
		return err
	}
	fs.sealed = append(fs.sealed, fs.mutable)
	fs.mutable = block.New(fs.clock.Now(), fs.dir, fs.kind.Dir(), fs.expectedInserts)
	return nil
}

// sync forces the current mutable block to seal early (the Engine's
// explicit sync call, spec section 4.3).
func (fs *familyStore) sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.rotateLocked()
}

// seek returns every revision matching (locator[,key]) across every
// sealed block whose filter admits it, followed by the mutable block,
// in block-creation order.
func (fs *familyStore) seek(locator, key []byte) ([]wire.Revision, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []wire.Revision
	for _, b := range fs.sealed {
		if !b.MightContain(locator, key, nil) {
			continue
		}
		revs, err := b.Seek(locator, key)
		if err != nil {
			return nil, err
		}
		out = append(out, revs...)
	}
	revs, err := fs.mutable.Seek(locator, key)
	if err != nil {
		return nil, err
	}
	out = append(out, revs...)
	return out, nil
}

// loadRecord returns the cached Record for locator, building it by
// replaying every admitting block if it is not yet cached.
func (fs *familyStore) loadRecord(locator []byte) (*family.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if rec, ok := fs.records[string(locator)]; ok {
		return rec, nil
	}

	rec := family.NewRecord(locator)
	for _, b := range fs.sealed {
		if !b.MightContain(locator, nil, nil) {
			continue
		}
		revs, err := b.Seek(locator, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range revs {
			rec.Apply(r)
		}
	}
	revs, err := fs.mutable.Seek(locator, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range revs {
		rec.Apply(r)
	}

	fs.records[string(locator)] = rec
	return rec, nil
}

// sealedIDs returns the ids of every sealed block, for catalog
// persistence.
func (fs *familyStore) sealedIDs() []uint64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	ids := make([]uint64, len(fs.sealed))
	for i, b := range fs.sealed {
		ids[i] = b.ID
	}
	return ids
}

