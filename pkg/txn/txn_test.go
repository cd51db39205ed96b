package txn

import (
	"sync"
	"testing"

	"github.com/azmodb/concourse/pkg/listen"
	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

type fakeEngine struct {
	mu        sync.Mutex
	locks     *token.Table
	listeners *listen.Registry
	nextID    uint64
	accepted  []wire.Write
	backups   map[uint64][]wire.Write
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		locks:     token.NewTable(),
		listeners: listen.NewRegistry(),
		backups:   make(map[uint64][]wire.Write),
	}
}

func (e *fakeEngine) Accept(w wire.Write) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accepted = append(e.accepted, w)
	return nil
}

func (e *fakeEngine) Locks() *token.Table         { return e.locks }
func (e *fakeEngine) Listeners() *listen.Registry { return e.listeners }

func (e *fakeEngine) NextOperationID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return e.nextID
}

func (e *fakeEngine) Backup(id uint64, writes []wire.Write) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backups[id] = append([]wire.Write(nil), writes...)
	return nil
}

func (e *fakeEngine) DeleteBackup(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.backups, id)
	return nil
}

func TestTransactionCommitWritesThroughAndDropsBackup(t *testing.T) {
	engine := newFakeEngine()
	tx := Begin(engine)

	w := wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: []byte("v")}
	if err := tx.Accept(w); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(engine.accepted) != 1 {
		t.Fatalf("engine.accepted = %d, want 1", len(engine.accepted))
	}
	if len(engine.backups) != 0 {
		t.Fatalf("backup should be dropped after commit, got %d lingering", len(engine.backups))
	}
}

func TestTransactionCommitTwiceFails(t *testing.T) {
	engine := newFakeEngine()
	tx := Begin(engine)
	if err := tx.Commit(); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := tx.Commit(); err != ErrAtomicAlreadyCommitted {
		t.Fatalf("second Commit = %v, want ErrAtomicAlreadyCommitted", err)
	}
}

func TestTransactionAbortedByConflictingNotifyFailsCommit(t *testing.T) {
	engine := newFakeEngine()
	tx := Begin(engine)
	engine.listeners.RegisterPoint(token.ForKeyRecord("name", 1), tx.ID(), tx)

	engine.listeners.NotifyWrite("name", 1, vtype.Bool(true))
	if err := tx.Commit(); err != ErrAborted {
		t.Fatalf("Commit = %v, want ErrAborted", err)
	}
}

func TestNestedAtomicOperationWritesIntoTransactionLimbo(t *testing.T) {
	engine := newFakeEngine()
	tx := Begin(engine)
	op := tx.Spawn()

	w := wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: []byte("v")}
	if err := op.Write(token.ForKeyRecord("name", 1), w); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := op.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// The write landed in the transaction's own Limbo, not the Engine,
	// until the transaction itself commits.
	if len(engine.accepted) != 0 {
		t.Fatalf("engine.accepted = %d, want 0 before transaction commit", len(engine.accepted))
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("tx.Commit: %v", err)
	}
	if len(engine.accepted) != 1 {
		t.Fatalf("engine.accepted = %d, want 1 after transaction commit", len(engine.accepted))
	}
}
