// Package atomic implements the short-lived AtomicOperation state
// machine described in spec section 4.6: OPEN/COMMITTED/PREEMPTED,
// canonical-order lock acquisition, lock upgrade, and re-verification
// against the version-change listener registry.
package atomic

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/azmodb/concourse/pkg/listen"
	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/wire"
)

// ErrAtomicState is raised when commit is called on an operation that
// has already committed, or that was preempted by a concurrent write
// touching one of its read tokens.
var ErrAtomicState = errors.New("atomic: operation preempted or already closed")

// ErrIllegalState is raised on an attempt to read or write through a
// closed (committed or preempted) operation.
var ErrIllegalState = errors.New("atomic: operation already closed")

// State names the three states an AtomicOperation moves through.
type State int32

const (
	StateOpen State = iota
	Committed
	Preempted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case Committed:
		return "committed"
	case Preempted:
		return "preempted"
	default:
		return "unknown"
	}
}

// Destination is where a committed operation's writes land: an adapter
// over Database directly for an Engine-spawned operation, or a
// Transaction's private Limbo for a nested one.
type Destination interface {
	Accept(w wire.Write) error
}

// Support is implemented by whatever can spawn AtomicOperations (the
// Engine, or a Transaction spawning a nested operation): spec section
// 4.6's AtomicSupport.
type Support interface {
	Destination
	Locks() *token.Table
	Listeners() *listen.Registry
	NextOperationID() uint64
}

type pendingWrite struct {
	tok token.Token
	w   wire.Write
}

// AtomicOperation is a single read/write unit of isolation, implementing
// listen.Listener so the registry can mark it preempted synchronously.
type AtomicOperation struct {
	id       uint64
	support  Support
	preempted int32 // atomic bool, set by OnVersionChange

	mu          sync.Mutex
	state       State
	readHandles map[string]*token.Handle // token bytes -> shared lock held for a read
	writeTokens map[string]token.Token   // distinct tokens this op's writes will lock
	pending     []pendingWrite
}

// Open spawns a new AtomicOperation from support.
func Open(support Support) *AtomicOperation {
	return &AtomicOperation{
		id:          support.NextOperationID(),
		support:     support,
		state:       StateOpen,
		readHandles: make(map[string]*token.Handle),
		writeTokens: make(map[string]token.Token),
	}
}

// ID returns the operation's id, used as its listener registry key.
func (op *AtomicOperation) ID() uint64 { return op.id }

// State returns the operation's current state.
func (op *AtomicOperation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// OnVersionChange marks the operation preempted. Called synchronously
// by the listener registry from whatever goroutine performed a
// conflicting write; it must not block or take op.mu.
func (op *AtomicOperation) OnVersionChange() {
	atomic.StoreInt32(&op.preempted, 1)
}

func (op *AtomicOperation) isPreempted() bool {
	return atomic.LoadInt32(&op.preempted) == 1
}

// Read registers tok as a point this operation has observed, taking a
// shared lock on it (so a concurrent write must upgrade or wait) and
// registering for version-change notification.
func (op *AtomicOperation) Read(tok token.Token) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateOpen {
		return ErrIllegalState
	}
	key := tok.String()
	if _, ok := op.readHandles[key]; ok {
		return nil
	}
	h := op.support.Locks().RLock(tok)
	op.readHandles[key] = h
	op.support.Listeners().RegisterPoint(tok, op.id, op)
	return nil
}

// ReadRange registers a find-style predicate this operation depends on;
// a future write whose value matches invalidates the operation.
func (op *AtomicOperation) ReadRange(matcher listen.RangeMatcher) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateOpen {
		return ErrIllegalState
	}
	op.support.Listeners().RegisterRange(op.id, matcher, op)
	return nil
}

// Write buffers w for the given token, to be locked and applied at
// commit. Multiple writes may target the same token; all are applied in
// the order Write was called.
func (op *AtomicOperation) Write(tok token.Token, w wire.Write) error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateOpen {
		return ErrIllegalState
	}
	op.writeTokens[tok.String()] = tok
	op.pending = append(op.pending, pendingWrite{tok: tok, w: w})
	return nil
}

// Commit performs the four-step protocol spec section 4.6 describes:
// check OPEN, acquire every write token's lock in canonical order
// (upgrading any token already held for a read), re-verify no
// preemption was observed, then apply the buffered writes and release.
func (op *AtomicOperation) Commit() error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.state != StateOpen {
		return ErrAtomicState
	}
	if op.isPreempted() {
		op.transitionPreemptedLocked()
		return ErrAtomicState
	}

	toks := make([]token.Token, 0, len(op.writeTokens))
	for _, t := range op.writeTokens {
		toks = append(toks, t)
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].Less(toks[j]) })

	held := make([]*token.Handle, 0, len(toks))
	for _, tok := range toks {
		key := tok.String()
		if rh, ok := op.readHandles[key]; ok {
			uh := rh.Upgrade()
			delete(op.readHandles, key)
			held = append(held, uh)
			continue
		}
		held = append(held, op.support.Locks().Lock(tok))
	}
	releaseAll := func() {
		for _, h := range held {
			h.Unlock()
		}
		for _, h := range op.readHandles {
			h.Unlock()
		}
	}

	if op.isPreempted() {
		releaseAll()
		op.transitionPreemptedLocked()
		return ErrAtomicState
	}

	for _, pw := range op.pending {
		if err := op.support.Accept(pw.w); err != nil {
			releaseAll()
			op.transitionPreemptedLocked()
			return err
		}
	}

	releaseAll()
	op.support.Listeners().Unregister(op.id)
	op.state = Committed
	return nil
}

// Cancel aborts the operation without applying any buffered writes,
// releasing its read locks and listener registrations.
func (op *AtomicOperation) Cancel() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateOpen {
		return
	}
	for _, h := range op.readHandles {
		h.Unlock()
	}
	op.support.Listeners().Unregister(op.id)
	op.state = Preempted
}

func (op *AtomicOperation) transitionPreemptedLocked() {
	op.support.Listeners().Unregister(op.id)
	op.state = Preempted
}
