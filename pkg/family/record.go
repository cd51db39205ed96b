package family

import (
	"bytes"
	"sort"

	"github.com/azmodb/concourse/pkg/wire"
)

// Record is the in-memory aggregate of all revisions sharing a locator
// in one family (spec section 3). It operates at the byte level so the
// same type serves all three families: Primary (key=field, value=Value
// bytes), Index (key=Value bytes, value=Identifier bytes) and Search
// (key=token, value=Position bytes). It is built lazily by replaying the
// Buffer's in-scope writes and every block seek whose bloom filter
// admits the locator, and is safe to discard and rebuild from scratch
// under memory pressure.
type Record struct {
	Locator []byte

	present map[string][][]byte        // key -> currently-present value bytes, sorted
	history map[string][]wire.Revision // key -> full revision history, version order
}

// NewRecord returns an empty Record for locator, ready for Apply.
func NewRecord(locator []byte) *Record {
	return &Record{
		Locator: append([]byte(nil), locator...),
		present: make(map[string][][]byte),
		history: make(map[string][]wire.Revision),
	}
}

// Apply folds one revision into the record's present/history state. The
// caller is responsible for feeding revisions to every key in version
// order; Apply only maintains the odd/even ADD/REMOVE toggle described
// in spec section 3 (odd count of ADDs for a (key,value) pair since its
// last even count means currently present).
func (r *Record) Apply(rev wire.Revision) {
	key := string(rev.Key)
	r.history[key] = append(r.history[key], rev)

	switch rev.Action {
	case wire.Add:
		r.addPresent(key, rev.Value)
	case wire.Remove:
		r.removePresent(key, rev.Value)
	}
}

func (r *Record) addPresent(key string, value []byte) {
	values := r.present[key]
	i := sort.Search(len(values), func(i int) bool { return bytes.Compare(values[i], value) >= 0 })
	if i < len(values) && bytes.Equal(values[i], value) {
		return // already present; an ADD on an already-present value is a no-op observation
	}
	values = append(values, nil)
	copy(values[i+1:], values[i:])
	values[i] = append([]byte(nil), value...)
	r.present[key] = values
}

func (r *Record) removePresent(key string, value []byte) {
	values := r.present[key]
	i := sort.Search(len(values), func(i int) bool { return bytes.Compare(values[i], value) >= 0 })
	if i >= len(values) || !bytes.Equal(values[i], value) {
		return // REMOVE of an absent value is a no-op observation
	}
	r.present[key] = append(values[:i], values[i+1:]...)
}

// Present returns the currently-present value bytes for key, in
// ascending byte order.
func (r *Record) Present(key string) [][]byte {
	return r.present[key]
}

// History returns the full revision history for key, in the order it
// was applied (expected to be version order).
func (r *Record) History(key string) []wire.Revision {
	return r.history[key]
}

// Keys returns every key this record has observed any revision for.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.history))
	for k := range r.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PresentValues decodes Present(key) through decode, skipping any value
// that fails to decode. Used by callers that want typed Values back
// (the Primary family's present set) rather than raw bytes.
func (r *Record) PresentValues(key string, decode func([]byte) (Value, error)) []Value {
	raw := r.Present(key)
	out := make([]Value, 0, len(raw))
	for _, b := range raw {
		v, err := decode(b)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
