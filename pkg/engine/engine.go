// Package engine implements the BufferedStore described in spec section
// 4.5: an Engine composes one Buffer and one Database, serves every
// read from both combined with odd-count/toggle semantics, and runs the
// background transport thread plus its hung-detection watchdog.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	atomicop "github.com/azmodb/concourse/pkg/atomic"
	"github.com/azmodb/concourse/pkg/buffer"
	"github.com/azmodb/concourse/pkg/config"
	"github.com/azmodb/concourse/pkg/database"
	"github.com/azmodb/concourse/pkg/listen"
	"github.com/azmodb/concourse/pkg/metrics"
	"github.com/azmodb/concourse/pkg/obslog"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/txn"
	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

// Engine is the top-level read/write surface: a Buffer + Database
// composition, a per-token lock table and version-change registry shared
// by every AtomicOperation and Transaction it spawns, and the
// background transporter/watchdog goroutine pair.
type Engine struct {
	cfg   config.Config
	clock storeio.Clock

	buf *buffer.Buffer
	db  *database.Database

	locks     *token.Table
	listeners *listen.Registry

	mu      sync.Mutex
	lastErr error
	hung    bool

	lastProgressUnixNano int64 // atomic

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open creates or recovers an Engine rooted at cfg.Dir: it opens the
// Buffer and Database, replays any lingering transaction backup files
// left by a crash mid-commit, then starts the transport and watchdog
// goroutines.
func Open(cfg config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: creating root dir: %w", err)
	}
	clock := storeio.NewMonotonicClock()

	bufDir := filepath.Join(cfg.Dir, "buffer")
	buf, err := buffer.Open(bufDir, cfg.PageCapacity, clock)
	if err != nil {
		return nil, fmt.Errorf("engine: opening buffer: %w", err)
	}

	dbDir := filepath.Join(cfg.Dir, "db")
	db, err := database.Open(dbDir, clock, cfg.BlockRotateThreshold, cfg.ExpectedInsertsPerBlock, cfg.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("engine: opening database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		buf:       buf,
		db:        db,
		locks:     token.NewTable(),
		listeners: listen.NewRegistry(),
		cancel:    cancel,
		group:     group,
	}
	atomic.StoreInt64(&e.lastProgressUnixNano, time.Now().UnixNano())

	if err := txn.Restore(cfg.Dir, e.replayRestoredWrites); err != nil {
		cancel()
		return nil, fmt.Errorf("engine: restoring transaction backups: %w", err)
	}

	// errgroup supervises the transporter and watchdog as a pair: either
	// goroutine returning a non-nil error cancels gctx for the other.
	group.Go(func() error { return e.runTransport(gctx) })
	group.Go(func() error { return e.runWatchdog(gctx) })
	return e, nil
}

func (e *Engine) replayRestoredWrites(writes []wire.Write) error {
	log := obslog.WithComponent("engine")
	for _, w := range writes {
		if err := e.Accept(w); err != nil {
			return err
		}
	}
	log.Info().Int("count", len(writes)).Msg("replayed transaction backup")
	return nil
}

// Close stops the background goroutines and releases the Buffer and
// Database.
func (e *Engine) Close() error {
	e.cancel()
	if err := e.group.Wait(); err != nil {
		return fmt.Errorf("engine: background goroutine: %w", err)
	}
	if err := e.buf.Close(); err != nil {
		return err
	}
	return e.db.Close()
}

// Accept buffers w (Buffer.Insert) and notifies any listener registered
// for a token or range w's (key,record,value) intersects. This is the
// Destination every AtomicOperation and Transaction commits through; it
// does not itself write to the Database — that happens asynchronously
// via the transport thread.
func (e *Engine) Accept(w wire.Write) error {
	if err := e.buf.Insert(w); err != nil {
		return err
	}
	if v, err := vtype.Unmarshal(w.Value); err == nil {
		e.listeners.NotifyWrite(string(w.Key), w.Record, v)
	}
	return nil
}

// Locks returns the lock table shared by every operation this Engine
// spawns.
func (e *Engine) Locks() *token.Table { return e.locks }

// Listeners returns the version-change registry shared by every
// operation this Engine spawns.
func (e *Engine) Listeners() *listen.Registry { return e.listeners }

// NextOperationID allocates an id for an AtomicOperation or Transaction
// from the Engine's monotonic clock, the same sequence write versions
// are drawn from.
func (e *Engine) NextOperationID() uint64 { return e.clock.Now() }

// NextVersion allocates the version stamp for a new write.
func (e *Engine) NextVersion() uint64 { return e.clock.Now() }

// Backup durably writes a transaction's buffered writes under the
// Engine's transactions directory.
func (e *Engine) Backup(id uint64, writes []wire.Write) error {
	return txn.WriteBackup(e.cfg.Dir, id, nil, writes)
}

// DeleteBackup removes a transaction's backup file once it has
// committed.
func (e *Engine) DeleteBackup(id uint64) error {
	return txn.DeleteBackup(e.cfg.Dir, id)
}

// Spawn starts a new top-level AtomicOperation against this Engine.
func (e *Engine) Spawn() *atomicop.AtomicOperation { return atomicop.Open(e) }

// BeginTransaction starts a new long-lived Transaction against this
// Engine.
func (e *Engine) BeginTransaction() *txn.Transaction { return txn.Begin(e) }

// Write is a convenience single-operation add/remove: it spawns an
// AtomicOperation, buffers one write under the (key,record) token, and
// commits immediately.
func (e *Engine) Write(action wire.Action, record uint64, key string, value vtype.Value) error {
	op := e.Spawn()
	w := wire.Write{
		Action:  action,
		Version: e.NextVersion(),
		Record:  record,
		Key:     []byte(key),
		Value:   value.Marshal(),
	}
	if err := op.Write(token.ForKeyRecord(key, record), w); err != nil {
		return err
	}
	return op.Commit()
}

// Sync forces every family's mutable block to seal early, the Engine's
// explicit sync call named in spec section 4.3.
func (e *Engine) Sync() error { return e.db.Sync() }

// Healthy reports the transporter watchdog's current verdict: nil if
// the transport thread has made progress within HungDetectionThreshold,
// otherwise an error wrapping the last StorageIO failure observed, if
// any.
func (e *Engine) Healthy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hung {
		if e.lastErr != nil {
			return fmt.Errorf("engine: transport thread hung: %w", e.lastErr)
		}
		return fmt.Errorf("engine: transport thread hung")
	}
	return nil
}

type databaseDestination struct{ db *database.Database }

func (d databaseDestination) Accept(w wire.Write) error {
	_, err := d.db.Accept(w)
	return err
}
