package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azmodb/concourse/pkg/config"
	"github.com/azmodb/concourse/pkg/family"
	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.TransportInterval = time.Hour // keep writes parked in the buffer for these tests
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestWriteVisibleBeforeTransport(t *testing.T) {
	e := openTestEngine(t)

	err := e.Write(wire.Add, 7, "name", vtype.Text("ada"))
	require.NoError(t, err)

	values, err := e.Select(family.Identifier(7), "name")
	require.NoError(t, err)
	require.Len(t, values, 1)
	got, ok := values[0].AsText()
	require.True(t, ok)
	require.Equal(t, "ada", got)
}

func TestFindCombinesBufferAndDatabase(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(wire.Add, 1, "team", vtype.Tag("blue")))
	require.NoError(t, e.Write(wire.Add, 2, "team", vtype.Tag("blue")))

	ids, err := e.Find("team", family.OpEqual, vtype.Tag("blue"))
	require.NoError(t, err)
	require.ElementsMatch(t, []family.Identifier{1, 2}, ids)

	require.NoError(t, e.Write(wire.Remove, 1, "team", vtype.Tag("blue")))
	ids, err = e.Find("team", family.OpEqual, vtype.Tag("blue"))
	require.NoError(t, err)
	require.Equal(t, []family.Identifier{2}, ids)
}

// TestFindGreaterThanCombinesBufferAndDatabase covers spec section 8's
// find("age", GREATER_THAN, 50) scenario end to end through the Engine,
// including a record whose qualifying write is still sitting in the
// Buffer (not yet transported into the Database's Index family).
func TestFindGreaterThanCombinesBufferAndDatabase(t *testing.T) {
	e := openTestEngine(t)

	for i := 1; i <= 100; i++ {
		require.NoError(t, e.Write(wire.Add, uint64(i), "age", vtype.Int64(int64(i))))
	}

	ids, err := e.Find("age", family.OpGreaterThan, vtype.Int64(50))
	require.NoError(t, err)
	require.Len(t, ids, 50)
	for _, id := range ids {
		require.GreaterOrEqual(t, uint64(id), uint64(51))
		require.LessOrEqual(t, uint64(id), uint64(100))
	}
}

func TestSearchCombinesBufferAndDatabase(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(wire.Add, 42, "bio", vtype.Text("concourse stores documents")))

	positions, err := e.Search("bio", "documents")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, family.Identifier(42), positions[0].Record)
}

// TestSearchMatchesSubstringAcrossBuffer covers spec section 8's
// search("name", "ef") scenario through the Engine, where the matching
// write has not yet transported out of the Buffer.
func TestSearchMatchesSubstringAcrossBuffer(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(wire.Add, 1, "name", vtype.Text("jeff")))

	positions, err := e.Search("name", "ef")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, family.Identifier(1), positions[0].Record)

	positions, err = e.Search("name", "xyz")
	require.NoError(t, err)
	require.Len(t, positions, 0)
}

func TestRemoveThenAddIsVisibleAsPresent(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(wire.Add, 9, "status", vtype.Tag("open")))
	require.NoError(t, e.Write(wire.Remove, 9, "status", vtype.Tag("open")))
	require.NoError(t, e.Write(wire.Add, 9, "status", vtype.Tag("open")))

	values, err := e.Select(family.Identifier(9), "status")
	require.NoError(t, err)
	require.Len(t, values, 1)
}

func TestHealthyBeforeWatchdogTrips(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Healthy())
}

// TestConcurrentReadThenWriteExactlyOneCommits covers spec section 8's
// scenario 5: two AtomicOperations both read "name" in record 1, then
// both write to it; exactly one commit must succeed. Both operations
// race for the same token's exclusive lock; whichever wins applies its
// write first, which notifies the listener registry and preempts the
// other before it can acquire the lock in turn.
func TestConcurrentReadThenWriteExactlyOneCommits(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Write(wire.Add, 1, "name", vtype.Text("initial")))

	tok := token.ForKeyRecord("name", 1)
	opA, opB := e.Spawn(), e.Spawn()
	require.NoError(t, opA.Read(tok))
	require.NoError(t, opB.Read(tok))

	require.NoError(t, opA.Write(tok, wire.Write{
		Action: wire.Add, Version: e.NextVersion(), Record: 1,
		Key: []byte("name"), Value: vtype.Text("from-a").Marshal(),
	}))
	require.NoError(t, opB.Write(tok, wire.Write{
		Action: wire.Add, Version: e.NextVersion(), Record: 1,
		Key: []byte("name"), Value: vtype.Text("from-b").Marshal(),
	}))

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0] = opA.Commit() }()
	go func() { defer wg.Done(); results[1] = opB.Commit() }()
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes, "exactly one of two conflicting commits must succeed")
}

// TestCrashRecoveryRoundTripNoDuplicateVersions covers spec section 8's
// scenario 6: 1000 writes spanning more than one Buffer page, then a
// stop/start cycle, with no duplicate version surviving and every write
// recoverable. TransportInterval is parked at an hour so the writes stay
// in the Buffer across the restart rather than draining into the
// Database, exercising the Buffer's own persistence/recovery path.
func TestCrashRecoveryRoundTripNoDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.PageCapacity = 2048
	cfg.TransportInterval = time.Hour

	e, err := Open(cfg)
	require.NoError(t, err)

	const n = 1000
	seenBeforeRestart := make(map[uint64]bool, n)
	for i := uint64(1); i <= n; i++ {
		op := e.Spawn()
		w := wire.Write{
			Action: wire.Add, Version: e.NextVersion(), Record: i,
			Key: []byte("name"), Value: vtype.Text("record").Marshal(),
		}
		require.False(t, seenBeforeRestart[w.Version], "duplicate version %d assigned before restart", w.Version)
		seenBeforeRestart[w.Version] = true
		require.NoError(t, op.Write(token.ForKeyRecord("name", i), w))
		require.NoError(t, op.Commit())
	}
	require.GreaterOrEqual(t, e.buf.PageCount(), 2, "1000 writes at a 2KiB page capacity must span more than one page")
	require.NoError(t, e.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e2.Close()) })

	writes, err := e2.buf.Iterator()
	require.NoError(t, err)
	require.Len(t, writes, n, "every pre-restart write must survive the restart")

	seenAfterRestart := make(map[uint64]bool, n)
	for _, w := range writes {
		require.False(t, seenAfterRestart[w.Version], "duplicate version %d recovered after restart", w.Version)
		seenAfterRestart[w.Version] = true
	}

	for i := uint64(1); i <= n; i++ {
		values, err := e2.Select(family.Identifier(i), "name")
		require.NoError(t, err)
		require.Len(t, values, 1)
	}
}
