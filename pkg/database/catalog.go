package database

import (
	"encoding/binary"
	"path/filepath"

	"github.com/azmodb/concourse/pkg/family"
	bolt "go.etcd.io/bbolt"
)

// catalog is the narrow "block catalog" named in SPEC_FULL.md's
// supplemented features: it tracks which block ids are sealed per
// family so Database.Open can recover without a directory readdir +
// per-file stat sweep. It does not hold record data; pkg/block's sealed
// block files remain the source of truth for revisions.
type catalog struct {
	db *bolt.DB
}

var catalogBuckets = [3][]byte{
	[]byte(family.Primary.Dir()),
	[]byte(family.Index.Dir()),
	[]byte(family.Search.Dir()),
}

func openCatalog(dir string) (*catalog, error) {
	db, err := bolt.Open(filepath.Join(dir, "catalog.db"), 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range catalogBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &catalog{db: db}, nil
}

func (c *catalog) close() error { return c.db.Close() }

// sealedIDs returns every block id recorded as sealed for kind.
func (c *catalog) sealedIDs(kind family.Kind) ([]uint64, error) {
	var ids []uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind.Dir()))
		return b.ForEach(func(k, _ []byte) error {
			if len(k) == 8 {
				ids = append(ids, binary.BigEndian.Uint64(k))
			}
			return nil
		})
	})
	return ids, err
}

// save replaces the recorded sealed ids for each family with the given
// sets, called after Database.Sync seals every family's mutable block.
func (c *catalog) save(
	primaryKind family.Kind, primaryIDs []uint64,
	indexKind family.Kind, indexIDs []uint64,
	searchKind family.Kind, searchIDs []uint64,
) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, kv := range []struct {
			kind family.Kind
			ids  []uint64
		}{
			{primaryKind, primaryIDs},
			{indexKind, indexIDs},
			{searchKind, searchIDs},
		} {
			name := []byte(kv.kind.Dir())
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			b, err := tx.CreateBucket(name)
			if err != nil {
				return err
			}
			for _, id := range kv.ids {
				var key [8]byte
				binary.BigEndian.PutUint64(key[:], id)
				if err := b.Put(key[:], []byte{1}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
