package database

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/azmodb/concourse/pkg/family"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

// Receipts bundles the revision objects Accept produced in each family,
// the "receipts" a Segment bundles per spec section 4.3.
type Receipts struct {
	Primary *wire.Revision
	Index   *wire.Revision
	Search  []wire.Revision
}

// Database composes the three revision families (Primary, Index,
// Search) described in spec section 3, with Accept and the
// select/find/search/browse reads of spec section 4.3. Accept takes one
// write at a time; Database has no merge of a prebuilt segment.
type Database struct {
	dir     string
	clock   storeio.Clock
	catalog *catalog

	primary *familyStore
	index   *familyStore
	search  *familyStore

	workerPoolSize int
}

// Open creates or recovers a Database rooted at dir. Sealed block ids
// are recovered from the block catalog (SPEC_FULL.md's supplemented
// persistence feature) rather than a directory scan. workerPoolSize
// bounds how many of Accept's Index/Search derivations run concurrently
// (each family has its own lock, so this is pure parallelism once the
// order-critical Primary insertion has committed).
func Open(dir string, clock storeio.Clock, rotateThreshold, expectedInserts, workerPoolSize int) (*Database, error) {
	cat, err := openCatalog(dir)
	if err != nil {
		return nil, err
	}

	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	db := &Database{dir: dir, clock: clock, catalog: cat, workerPoolSize: workerPoolSize}
	for _, kind := range []family.Kind{family.Primary, family.Index, family.Search} {
		ids, err := cat.sealedIDs(kind)
		if err != nil {
			return nil, err
		}
		fs, err := openFamilyStore(dir, kind, clock, rotateThreshold, expectedInserts, ids)
		if err != nil {
			return nil, err
		}
		switch kind {
		case family.Primary:
			db.primary = fs
		case family.Index:
			db.index = fs
		case family.Search:
			db.search = fs
		}
	}
	return db, nil
}

// Close releases the catalog's resources.
func (db *Database) Close() error { return db.catalog.close() }

// Accept inserts w into the Primary family directly, and derives and
// inserts the corresponding Index revision (field=value -> record) and
// zero or more Search revisions (one per token, for text/tag values).
// Primary is inserted first and is order-critical (later reads derive
// presence from it); Index and the per-token Search insertions touch
// independent families and are fanned out across a worker pool bounded
// by workerPoolSize. If any insertion fails after Primary has already
// been applied, Accept returns the error without retracting the
// Primary insertion (Block has no native revision-removal path — see
// DESIGN.md's note on this simplification).
func (db *Database) Accept(w wire.Write) (Receipts, error) {
	primaryRev, err := db.primary.insert(
		family.PrimaryLocator(family.Identifier(w.Record)),
		w.Key, w.Value, w.Version, w.Action,
	)
	if err != nil {
		return Receipts{}, err
	}
	receipts := Receipts{Primary: &primaryRev}

	field := string(w.Key)
	var tokens []string
	if v, err := vtype.Unmarshal(w.Value); err == nil {
		text, ok := v.AsText()
		if !ok {
			text, ok = v.AsTag()
		}
		if ok {
			tokens = Tokenize(text)
		}
	}

	indexRev := new(wire.Revision)
	searchRevs := make([]wire.Revision, len(tokens))

	g := new(errgroup.Group)
	g.SetLimit(db.workerPoolSize)

	g.Go(func() error {
		rev, err := db.index.insert(
			family.IndexLocator(field), w.Value,
			family.EncodeIdentifier(family.Identifier(w.Record)),
			w.Version, w.Action,
		)
		if err != nil {
			return err
		}
		*indexRev = rev
		return nil
	})
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			rev, err := db.search.insert(
				family.SearchLocator(field), family.SearchKey(tok),
				family.EncodePosition(family.Position{Record: family.Identifier(w.Record), Index: i}),
				w.Version, w.Action,
			)
			if err != nil {
				return err
			}
			searchRevs[i] = rev
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return receipts, err
	}
	receipts.Index = indexRev
	receipts.Search = searchRevs
	return receipts, nil
}

// Sync forces every family's mutable block to seal early.
func (db *Database) Sync() error {
	for _, fs := range []*familyStore{db.primary, db.index, db.search} {
		if err := fs.sync(); err != nil {
			return err
		}
	}
	return db.catalog.save(db.primary.kind, db.primary.sealedIDs(),
		db.index.kind, db.index.sealedIDs(),
		db.search.kind, db.search.sealedIDs())
}

// Browse returns the Primary family's Record for record, loading it if
// necessary (spec section 4.3's "select obtains the PrimaryRecord").
func (db *Database) Browse(record family.Identifier) (*family.Record, error) {
	return db.primary.loadRecord(family.PrimaryLocator(record))
}

// Select returns the currently-present values for (record, field).
func (db *Database) Select(record family.Identifier, field string) ([]vtype.Value, error) {
	rec, err := db.Browse(record)
	if err != nil {
		return nil, err
	}
	return rec.PresentValues(field, family.DecodeValue), nil
}

// Find returns the ids of records whose current value(s) for field
// satisfy op against values, via an ordered scan of the Index family's
// keys (spec section 4.3; scenario find("age", GREATER_THAN, 50)).
// op.Matches consults vtype.Compare's order, so this serves equality as
// well as range predicates the Index family's exact-key lookup alone
// cannot.
func (db *Database) Find(field string, op family.CompareOp, values ...vtype.Value) ([]family.Identifier, error) {
	rec, err := db.index.loadRecord(family.IndexLocator(field))
	if err != nil {
		return nil, err
	}

	ids := make(map[family.Identifier]bool)
	for _, key := range rec.Keys() {
		v, err := family.DecodeValue([]byte(key))
		if err != nil {
			continue
		}
		if !op.Matches(v, values) {
			continue
		}
		for _, b := range rec.Present(key) {
			id, err := family.DecodeIdentifier(b)
			if err != nil {
				continue
			}
			ids[id] = true
		}
	}

	out := make([]family.Identifier, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Search answers a literal substring query over field via the Search
// family's single-character n-gram index (family.MatchSubstring chains
// consecutive character positions to reconstruct the full query).
func (db *Database) Search(field, query string) ([]family.Position, error) {
	rec, err := db.search.loadRecord(family.SearchLocator(field))
	if err != nil {
		return nil, err
	}
	return family.MatchSubstring(query, func(char string) ([]family.Position, error) {
		raw := rec.Present(string(family.SearchKey(char)))
		out := make([]family.Position, 0, len(raw))
		for _, b := range raw {
			p, err := family.DecodePosition(b)
			if err != nil {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	})
}
