package vtype

import "strings"

// numeric reports whether k is one of the numeric kinds and returns its
// value as a float64 for comparison purposes. Integers up to 2^53 convert
// losslessly; larger magnitudes are rare for indexed field values and the
// spec only requires integer and float to "compare as numbers", not
// bit-exact ordering across the full int64 range.
func numeric(v Value) (float64, bool) {
	switch v.kind {
	case KindInt32, KindInt64:
		return float64(v.i), true
	case KindFloat32, KindFloat64:
		return v.f, true
	default:
		return 0, false
	}
}

func isTextlike(k Kind) bool { return k == KindText || k == KindTag }

// Compare totally orders two values. Numeric kinds (int32/int64/float32/
// float64) compare as numbers regardless of which numeric kind each side
// is. A Tag compares case-insensitively to a Text of the same content for
// equality, but case-sensitively when the two differ (ordering always
// falls back to a byte-wise comparison once the values are not
// fold-equal). Link compares by record id. Bool compares false < true.
// Values of unrelated kinds order by Kind.
func Compare(a, b Value) int {
	if an, aok := numeric(a); aok {
		if bn, bok := numeric(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}

	if isTextlike(a.kind) && isTextlike(b.kind) {
		if a.kind != b.kind && strings.EqualFold(a.s, b.s) {
			return 0
		}
		return strings.Compare(a.s, b.s)
	}

	if a.kind == KindLink && b.kind == KindLink {
		switch {
		case a.link < b.link:
			return -1
		case a.link > b.link:
			return 1
		default:
			return 0
		}
	}

	if a.kind == KindBool && b.kind == KindBool {
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	}

	if a.kind < b.kind {
		return -1
	}
	if a.kind > b.kind {
		return 1
	}
	return 0
}

// Equal reports whether a and b compare equal under Compare.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }
