// Package limbo implements the abstract in-memory write log described
// in spec section 4.4: Limbo defines insert plus the naive O(n) reads
// used by transactions and by the Buffer before a block's index is
// available. Queue is a plain list; TransactionQueue additionally keeps
// a bloom filter to short-circuit verify misses.
package limbo

import (
	"sort"

	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

// Limbo is the abstract in-memory log contract.
type Limbo interface {
	Insert(w wire.Write) error
	Verify(key, value []byte, record uint64, version uint64) bool
	Select(key []byte, record uint64, version uint64) []vtype.Value
	Find(key []byte, op Operator, values []vtype.Value, version uint64) []uint64
}

// Operator names the predicate Find applies between the running present
// set and the query values (spec section 4.4's "find(key, op, values…,
// t)").
type Operator int

const (
	// OperatorIntersects emits a record when its present set for key
	// shares at least one value with the query set.
	OperatorIntersects Operator = iota
	// OperatorSupersets emits a record when its present set for key
	// contains every query value.
	OperatorSupersets
)

// Queue is a plain in-memory append-only list of Writes.
type Queue struct {
	writes []wire.Write
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue { return &Queue{} }

// Insert appends w to the queue.
func (q *Queue) Insert(w wire.Write) error {
	q.writes = append(q.writes, w)
	return nil
}

// All returns every Write currently queued, in insertion order.
func (q *Queue) All() []wire.Write { return q.writes }

// Verify scans the queue counting ADD minus REMOVE for (key,value,record)
// up to version <= t, and reports whether the result is odd (present).
func (q *Queue) Verify(key, value []byte, record uint64, t uint64) bool {
	count := 0
	for _, w := range q.writes {
		if w.Version > t || w.Record != record || string(w.Key) != string(key) {
			continue
		}
		if string(w.Value) != string(value) {
			continue
		}
		if w.Action == wire.Add {
			count++
		} else {
			count--
		}
	}
	return count%2 != 0
}

// Select scans the queue, toggling presence of each value for (key,
// record) as ADD/REMOVE is encountered up to version <= t, and returns
// the resulting present set in comparator order.
func (q *Queue) Select(key []byte, record uint64, t uint64) []vtype.Value {
	sorted := make([]wire.Write, 0, len(q.writes))
	for _, w := range q.writes {
		if w.Version > t || w.Record != record || string(w.Key) != string(key) {
			continue
		}
		sorted = append(sorted, w)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	present := toggleSet{}
	for _, w := range sorted {
		v, err := vtype.Unmarshal(w.Value)
		if err != nil {
			continue
		}
		present.toggle(v, w.Action)
	}
	return present.values()
}

// Find scans the queue, toggling per-record present sets for key up to
// version <= t, and returns the ids of records whose resulting set
// satisfies op against values.
func (q *Queue) Find(key []byte, op Operator, values []vtype.Value, t uint64) []uint64 {
	byRecord := map[uint64][]wire.Write{}
	for _, w := range q.writes {
		if w.Version > t || string(w.Key) != string(key) {
			continue
		}
		byRecord[w.Record] = append(byRecord[w.Record], w)
	}

	var out []uint64
	for record, ws := range byRecord {
		sort.Slice(ws, func(i, j int) bool { return ws[i].Version < ws[j].Version })
		present := toggleSet{}
		for _, w := range ws {
			v, err := vtype.Unmarshal(w.Value)
			if err != nil {
				continue
			}
			present.toggle(v, w.Action)
		}
		set := present.values()
		if len(set) == 0 {
			continue
		}
		if matchOperator(op, set, values) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func matchOperator(op Operator, present, query []vtype.Value) bool {
	switch op {
	case OperatorIntersects:
		for _, p := range present {
			for _, q := range query {
				if vtype.Equal(p, q) {
					return true
				}
			}
		}
		return false
	case OperatorSupersets:
		for _, q := range query {
			found := false
			for _, p := range present {
				if vtype.Equal(p, q) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// toggleSet holds an ordered set of values, toggled present/absent by
// alternating ADD/REMOVE, matching the Revision odd/even invariant.
type toggleSet struct {
	vals []vtype.Value
}

func (s *toggleSet) toggle(v vtype.Value, action wire.Action) {
	i := sort.Search(len(s.vals), func(i int) bool { return vtype.Compare(s.vals[i], v) >= 0 })
	present := i < len(s.vals) && vtype.Equal(s.vals[i], v)
	switch {
	case action == wire.Add && !present:
		s.vals = append(s.vals, vtype.Value{})
		copy(s.vals[i+1:], s.vals[i:])
		s.vals[i] = v
	case action == wire.Remove && present:
		s.vals = append(s.vals[:i], s.vals[i+1:]...)
	}
}

func (s *toggleSet) values() []vtype.Value { return s.vals }
