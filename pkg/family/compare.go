package family

import "github.com/azmodb/concourse/pkg/vtype"

// CompareOp names a comparison predicate for an ordered find over the
// Index family (spec section 4.3's find contract; scenario
// find("age", GREATER_THAN, 50)). Unlike Limbo's Intersects/Supersets
// set-membership operators, CompareOp orders values via vtype.Compare.
type CompareOp int

const (
	// OpEqual matches a value equal to values[0].
	OpEqual CompareOp = iota
	// OpGreaterThan matches a value strictly greater than values[0].
	OpGreaterThan
	// OpLessThan matches a value strictly less than values[0].
	OpLessThan
	// OpBetween matches a value within [values[0], values[1]] inclusive.
	OpBetween
)

func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "equal"
	case OpGreaterThan:
		return "greater_than"
	case OpLessThan:
		return "less_than"
	case OpBetween:
		return "between"
	default:
		return "unknown"
	}
}

// Matches reports whether v satisfies op against values.
func (op CompareOp) Matches(v Value, values []Value) bool {
	switch op {
	case OpEqual:
		return len(values) >= 1 && vtype.Equal(v, values[0])
	case OpGreaterThan:
		return len(values) >= 1 && vtype.Compare(v, values[0]) > 0
	case OpLessThan:
		return len(values) >= 1 && vtype.Compare(v, values[0]) < 0
	case OpBetween:
		return len(values) >= 2 &&
			vtype.Compare(v, values[0]) >= 0 && vtype.Compare(v, values[1]) <= 0
	default:
		return false
	}
}

// MatchesAny reports whether any value in vs satisfies op against values.
func (op CompareOp) MatchesAny(vs []Value, values []Value) bool {
	for _, v := range vs {
		if op.Matches(v, values) {
			return true
		}
	}
	return false
}
