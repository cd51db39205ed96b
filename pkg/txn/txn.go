// Package txn implements Transaction, the long-lived atomic operation
// described in spec section 4.7: a private Limbo write buffer, nested
// AtomicOperations isolated from other concurrent transactions, and a
// durable backup file written before writing through to the Engine.
package txn

import (
	"errors"
	"sync"

	atomicop "github.com/azmodb/concourse/pkg/atomic"
	"github.com/azmodb/concourse/pkg/limbo"
	"github.com/azmodb/concourse/pkg/listen"
	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/wire"
)

// ErrAborted is returned by Commit when the transaction's read set was
// invalidated by an external write (spec section 7's TransactionState).
var ErrAborted = errors.New("txn: read set invalidated by a concurrent write")

// Engine is the subset of the top-level Engine a Transaction writes
// through to and durably backs itself up against.
type Engine interface {
	Accept(w wire.Write) error
	Locks() *token.Table
	Listeners() *listen.Registry
	NextOperationID() uint64
	Backup(id uint64, writes []wire.Write) error
	DeleteBackup(id uint64) error
}

// Transaction is a long-lived AtomicSupport: it owns a private Limbo
// buffering its own writes, and can spawn nested AtomicOperations that
// see those writes but are isolated from other transactions.
type Transaction struct {
	id     uint64
	engine Engine

	mu        sync.Mutex
	limbo     *limbo.Queue
	writes    []wire.Write
	committed bool
	aborted   int32 // incremented by OnVersionChange, read by isAborted; both under mu
}

// Begin starts a new Transaction against engine.
func Begin(engine Engine) *Transaction {
	return &Transaction{
		id:     engine.NextOperationID(),
		engine: engine,
		limbo:  limbo.NewQueue(),
	}
}

// ID returns the transaction's operation id, used both as its listener
// registry key and its backup file name.
func (t *Transaction) ID() uint64 { return t.id }

// OnVersionChange marks the transaction aborted; called by the listener
// registry if a concurrent external write invalidates a token the
// transaction (or one of its nested operations) has read.
func (t *Transaction) OnVersionChange() {
	t.mu.Lock()
	t.aborted++
	t.mu.Unlock()
}

func (t *Transaction) isAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted > 0
}

// Accept buffers w in the transaction's private Limbo rather than
// writing through to the Engine; it becomes visible to nested
// AtomicOperations immediately but to the rest of the Engine only at
// Commit.
func (t *Transaction) Accept(w wire.Write) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.limbo.Insert(w); err != nil {
		return err
	}
	t.writes = append(t.writes, w)
	return nil
}

// Locks exposes the Engine's lock table so nested operations lock
// against the same tokens as top-level writes.
func (t *Transaction) Locks() *token.Table { return t.engine.Locks() }

// Listeners exposes the Engine's registry so nested operations and
// external writes can preempt each other.
func (t *Transaction) Listeners() *listen.Registry { return t.engine.Listeners() }

// NextOperationID allocates an id for a nested AtomicOperation from the
// same sequence the Engine uses.
func (t *Transaction) NextOperationID() uint64 { return t.engine.NextOperationID() }

// Spawn starts a nested AtomicOperation whose writes land in this
// transaction's Limbo instead of the Engine directly.
func (t *Transaction) Spawn() *atomicop.AtomicOperation {
	return atomicop.Open(t)
}

// Commit durably backs up the transaction's buffered writes, replays
// them through to the Engine, then deletes the backup file (spec
// section 4.7). It fails with ErrAborted without writing through if a
// concurrent external write invalidated a token this transaction read.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return ErrAtomicAlreadyCommitted
	}
	if t.aborted > 0 {
		t.mu.Unlock()
		return ErrAborted
	}
	writes := append([]wire.Write(nil), t.writes...)
	t.mu.Unlock()

	if err := t.engine.Backup(t.id, writes); err != nil {
		return err
	}
	for _, w := range writes {
		if err := t.engine.Accept(w); err != nil {
			return err
		}
	}
	if err := t.engine.DeleteBackup(t.id); err != nil {
		return err
	}

	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	t.engine.Listeners().Unregister(t.id)
	return nil
}

// Abort discards the transaction's buffered writes without writing
// through to the Engine.
func (t *Transaction) Abort() {
	t.mu.Lock()
	t.writes = nil
	t.mu.Unlock()
	t.engine.Listeners().Unregister(t.id)
}

// ErrAtomicAlreadyCommitted is returned by a second call to Commit.
var ErrAtomicAlreadyCommitted = errors.New("txn: transaction already committed")
