// Package bloomfilter wraps github.com/bits-and-blooms/bloom/v3 with the
// composite-key hashing scheme the spec requires: every Block and every
// TransactionQueue populates a filter with the bytes of (locator),
// (locator,key) and (locator,key,value), so that mightContain can reject
// definite negatives at any of the three granularities a read asks for.
package bloomfilter

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFalsePositiveRate matches the spec's documented 3% default.
const DefaultFalsePositiveRate = 0.03

// Filter is a composite-key bloom filter as described in spec section 4.1.
type Filter struct {
	bf *bloom.BloomFilter
}

// New creates a Filter sized for expectedInsertions items (each of the
// three composite granularities counts as one insertion) at the given
// false-positive rate. A rate of 0 uses DefaultFalsePositiveRate.
func New(expectedInsertions int, falsePositiveRate float64) *Filter {
	if falsePositiveRate <= 0 {
		falsePositiveRate = DefaultFalsePositiveRate
	}
	if expectedInsertions < 1 {
		expectedInsertions = 1
	}
	return &Filter{bf: bloom.NewWithEstimates(uint(expectedInsertions*3), falsePositiveRate)}
}

// Composite builds the three nested composite keys an insertion
// populates the filter with: (locator), (locator,key), (locator,key,value).
// key and value may be nil, in which case only the prefixes up to the
// first nil are meaningful.
func Composite(locator, key, value []byte) [][]byte {
	out := make([][]byte, 0, 3)
	out = append(out, join(locator))
	if key != nil {
		out = append(out, join(locator, key))
	}
	if value != nil {
		out = append(out, join(locator, key, value))
	}
	return out
}

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += 4 + len(p)
	}
	buf := make([]byte, 0, n)
	var lenbuf [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenbuf[:], uint32(len(p)))
		buf = append(buf, lenbuf[:]...)
		buf = append(buf, p...)
	}
	return buf
}

// Add populates the filter with every composite granularity of
// (locator,key,value).
func (f *Filter) Add(locator, key, value []byte) {
	for _, c := range Composite(locator, key, value) {
		f.bf.Add(c)
	}
}

// MightContain consults the filter for a (locator[,key[,value]]) prefix.
// false means guaranteed absent; true means possibly present.
func (f *Filter) MightContain(locator, key, value []byte) bool {
	composites := Composite(locator, key, value)
	return f.bf.Test(composites[len(composites)-1])
}

// MarshalBinary serializes the filter for the sibling ".fltr" file.
func (f *Filter) MarshalBinary() ([]byte, error) { return f.bf.MarshalBinary() }

// UnmarshalBinary restores a filter previously produced by MarshalBinary.
func UnmarshalBinary(data []byte) (*Filter, error) {
	bf := &bloom.BloomFilter{}
	if err := bf.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &Filter{bf: bf}, nil
}
