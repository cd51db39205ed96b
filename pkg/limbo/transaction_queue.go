package limbo

import (
	"github.com/azmodb/concourse/pkg/bloomfilter"
	"github.com/azmodb/concourse/pkg/wire"
)

// TransactionQueue is a Queue that additionally maintains a bloom filter
// over (key,value,record), letting Verify reject definite negatives
// without a linear scan (spec section 4.4).
type TransactionQueue struct {
	Queue
	filter *bloomfilter.Filter
}

// NewTransactionQueue returns an empty TransactionQueue sized for
// expectedInsertions writes.
func NewTransactionQueue(expectedInsertions int) *TransactionQueue {
	return &TransactionQueue{filter: bloomfilter.New(expectedInsertions, 0)}
}

// Insert appends w to the queue and populates the verify filter.
func (q *TransactionQueue) Insert(w wire.Write) error {
	if err := q.Queue.Insert(w); err != nil {
		return err
	}
	q.filter.Add(w.Key, w.Value, recordBytes(w.Record))
	return nil
}

// Verify consults the bloom filter first; a miss is a guaranteed
// absence and short-circuits the underlying O(n) scan.
func (q *TransactionQueue) Verify(key, value []byte, record uint64, t uint64) bool {
	if !q.filter.MightContain(key, value, recordBytes(record)) {
		return false
	}
	return q.Queue.Verify(key, value, record, t)
}

func recordBytes(record uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(record)
		record >>= 8
	}
	return buf[:]
}
