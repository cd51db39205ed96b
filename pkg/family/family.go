// Package family supplies the typed view over the raw byte-oriented
// storage pkg/block and pkg/buffer deal in: Identifier, Text, Value and
// Position encoded/decoded to the locator/key/value []byte triples the
// three revision families (Primary, Index, Search) persist, plus the
// in-memory Record aggregate built by replaying those revisions.
package family

import "github.com/azmodb/concourse/pkg/vtype"

// Kind names one of the three parallel revision families.
type Kind uint8

const (
	Primary Kind = iota
	Index
	Search
)

func (k Kind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Index:
		return "index"
	case Search:
		return "search"
	default:
		return "unknown"
	}
}

// Dir is the on-disk directory name for a family's blocks, matching the
// three-letter extensions named for the block family.
func (k Kind) Dir() string {
	switch k {
	case Primary:
		return "cpb"
	case Index:
		return "csb"
	case Search:
		return "ctb"
	default:
		return "unknown"
	}
}

// Identifier is an unsigned 64-bit record id: the locator of the Primary
// family and the value of the Index family.
type Identifier uint64

// Position identifies a token's offset inside a record's indexed text:
// the value type of the Search family's inverted index.
type Position struct {
	Record Identifier
	Index  int
}

// Value re-exports the tagged union so callers of pkg/family need not
// import pkg/vtype directly for the common case.
type Value = vtype.Value
