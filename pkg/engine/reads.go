package engine

import (
	"github.com/azmodb/concourse/pkg/database"
	"github.com/azmodb/concourse/pkg/family"
	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

// Every read below is served from both the Buffer and the Database and
// combined with the same odd-count/toggle presence rule family.Record
// already applies to a block's own revisions (spec section 4.5): the
// Database's resolved answer seeds a Record as synthetic version-0 ADDs,
// then every Buffer write for the same locator/key that Buffer.Iterator
// returns is folded in, in insertion (= version) order. Iterator also
// returns writes already transported but still on a page that has not
// been deleted.

// Browse returns record's Primary Record, overlaying the Buffer's writes
// onto the Database's view.
func (e *Engine) Browse(record family.Identifier) (*family.Record, error) {
	rec, err := e.db.Browse(record)
	if err != nil {
		return nil, err
	}
	writes, err := e.buf.Iterator()
	if err != nil {
		return nil, err
	}

	combined := family.NewRecord(family.PrimaryLocator(record))
	for _, key := range rec.Keys() {
		for _, v := range rec.Present(key) {
			combined.Apply(wire.Revision{
				Action: wire.Add, Version: 0,
				Locator: family.PrimaryLocator(record), Key: []byte(key), Value: v,
			})
		}
	}
	for _, w := range writes {
		if w.Record != uint64(record) {
			continue
		}
		combined.Apply(w.Revision())
	}
	return combined, nil
}

// Select returns the currently-present values for (record, field),
// combining the Database's resolved state with the Buffer's overlay.
func (e *Engine) Select(record family.Identifier, field string) ([]vtype.Value, error) {
	dbValues, err := e.db.Select(record, field)
	if err != nil {
		return nil, err
	}
	writes, err := e.buf.Iterator()
	if err != nil {
		return nil, err
	}

	rec := family.NewRecord(family.PrimaryLocator(record))
	for _, v := range dbValues {
		rec.Apply(wire.Revision{
			Action: wire.Add, Version: 0,
			Locator: family.PrimaryLocator(record), Key: []byte(field), Value: family.EncodeValue(v),
		})
	}
	for _, w := range writes {
		if w.Record != uint64(record) || string(w.Key) != field {
			continue
		}
		rec.Apply(w.Revision())
	}
	return rec.PresentValues(field, family.DecodeValue), nil
}

// Find returns the ids of records whose current value(s) for field
// satisfy op against values (spec section 4.3; scenario
// find("age", GREATER_THAN, 50)), combining the Database's Index family
// with every Buffer write not yet transported into it. A record touched
// by a pending Buffer write is re-resolved through Select (Database
// value merged with the Buffer overlay) rather than trusting the
// Database's stale verdict for it.
func (e *Engine) Find(field string, op family.CompareOp, values ...vtype.Value) ([]family.Identifier, error) {
	dbIDs, err := e.db.Find(field, op, values...)
	if err != nil {
		return nil, err
	}
	writes, err := e.buf.Iterator()
	if err != nil {
		return nil, err
	}

	present := make(map[family.Identifier]bool, len(dbIDs))
	for _, id := range dbIDs {
		present[id] = true
	}

	affected := make(map[family.Identifier]bool)
	for _, w := range writes {
		if string(w.Key) == field {
			affected[family.Identifier(w.Record)] = true
		}
	}
	for record := range affected {
		resolved, err := e.Select(record, field)
		if err != nil {
			return nil, err
		}
		present[record] = op.MatchesAny(resolved, values)
	}

	out := make([]family.Identifier, 0, len(present))
	for id, ok := range present {
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Search answers a literal substring query over field, combining the
// Database's Search family with Buffer writes not yet tokenized into
// it. Buffer writes are tokenized the same single-character way
// Database.Accept derives Search revisions, so a write that has not yet
// transported still participates in family.MatchSubstring's
// consecutive-position chaining.
func (e *Engine) Search(field, query string) ([]family.Position, error) {
	writes, err := e.buf.Iterator()
	if err != nil {
		return nil, err
	}

	overlay := make(map[string]map[family.Position]bool)
	for _, w := range writes {
		if string(w.Key) != field {
			continue
		}
		v, err := vtype.Unmarshal(w.Value)
		if err != nil {
			continue
		}
		text, ok := v.AsText()
		if !ok {
			text, ok = v.AsTag()
		}
		if !ok {
			continue
		}
		for i, char := range database.Tokenize(text) {
			pos := family.Position{Record: family.Identifier(w.Record), Index: i}
			set, ok := overlay[char]
			if !ok {
				set = make(map[family.Position]bool)
				overlay[char] = set
			}
			set[pos] = w.Action == wire.Add
		}
	}

	return family.MatchSubstring(query, func(char string) ([]family.Position, error) {
		dbPositions, err := e.db.Search(field, char)
		if err != nil {
			return nil, err
		}
		present := make(map[family.Position]bool, len(dbPositions))
		for _, p := range dbPositions {
			present[p] = true
		}
		for pos, add := range overlay[char] {
			if add {
				present[pos] = true
			} else {
				delete(present, pos)
			}
		}
		out := make([]family.Position, 0, len(present))
		for pos := range present {
			out = append(out, pos)
		}
		return out, nil
	})
}
