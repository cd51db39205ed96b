package database

import (
	"os"
	"testing"

	"github.com/azmodb/concourse/pkg/family"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

func tmpDBDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "database-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestAcceptPopulatesAllThreeFamilies(t *testing.T) {
	dir := tmpDBDir(t)
	db, err := Open(dir, storeio.NewMonotonicClock(), DefaultRotateThreshold, 64, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	alice := vtype.Text("alice wonderland")
	w := wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("bio"), Value: alice.Marshal()}

	receipts, err := db.Accept(w)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if receipts.Primary == nil || receipts.Index == nil {
		t.Fatalf("Accept receipts missing primary/index: %+v", receipts)
	}
	if want := len([]rune("alice wonderland")); len(receipts.Search) != want {
		t.Fatalf("Accept receipts.Search len = %d, want %d (one per character)", len(receipts.Search), want)
	}

	got, err := db.Select(family.Identifier(1), "bio")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Select = %+v, want exactly alice", got)
	}
	if text, ok := got[0].AsText(); !ok || text != "alice wonderland" {
		t.Fatalf("Select[0] = %v, want %q", got[0], "alice wonderland")
	}

	ids, err := db.Find("bio", family.OpEqual, alice)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(ids) != 1 || ids[0] != family.Identifier(1) {
		t.Fatalf("Find = %v, want [1]", ids)
	}

	positions, err := db.Search("bio", "wonderland")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(positions) != 1 || positions[0].Record != family.Identifier(1) {
		t.Fatalf("Search = %+v, want one position for record 1", positions)
	}
}

// TestSearchMatchesSubstringNotJustWholeWord covers spec section 8's
// search("name", "ef") scenario: the Search family indexes individual
// characters, so a substring that never appears as a whole token still
// has to resolve by chaining consecutive character positions.
func TestSearchMatchesSubstringNotJustWholeWord(t *testing.T) {
	dir := tmpDBDir(t)
	db, err := Open(dir, storeio.NewMonotonicClock(), DefaultRotateThreshold, 64, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	jeff := vtype.Text("jeff")
	w := wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: jeff.Marshal()}
	if _, err := db.Accept(w); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	positions, err := db.Search("name", "ef")
	if err != nil {
		t.Fatalf("Search(ef): %v", err)
	}
	if len(positions) != 1 || positions[0].Record != family.Identifier(1) {
		t.Fatalf("Search(ef) = %+v, want one position for record 1", positions)
	}

	positions, err = db.Search("name", "xyz")
	if err != nil {
		t.Fatalf("Search(xyz): %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("Search(xyz) = %+v, want empty", positions)
	}
}

// TestFindGreaterThanServesRangeScenario covers spec section 8's
// find("age", GREATER_THAN, 50) scenario: the Index family's keys are
// scanned in vtype.Compare order rather than looked up by exact match.
func TestFindGreaterThanServesRangeScenario(t *testing.T) {
	dir := tmpDBDir(t)
	db, err := Open(dir, storeio.NewMonotonicClock(), DefaultRotateThreshold, 128, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for i := 1; i <= 100; i++ {
		age := vtype.Int64(int64(i))
		w := wire.Write{Action: wire.Add, Version: uint64(i), Record: uint64(i), Key: []byte("age"), Value: age.Marshal()}
		if _, err := db.Accept(w); err != nil {
			t.Fatalf("Accept(%d): %v", i, err)
		}
	}

	ids, err := db.Find("age", family.OpGreaterThan, vtype.Int64(50))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(ids) != 50 {
		t.Fatalf("Find len = %d, want 50 (records 51..100)", len(ids))
	}
	for _, id := range ids {
		if id < 51 || id > 100 {
			t.Fatalf("Find returned out-of-range id %d", id)
		}
	}
}

func TestAcceptRemoveTogglesPresence(t *testing.T) {
	dir := tmpDBDir(t)
	db, err := Open(dir, storeio.NewMonotonicClock(), DefaultRotateThreshold, 64, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	name := vtype.Text("carol")
	add := wire.Write{Action: wire.Add, Version: 1, Record: 5, Key: []byte("name"), Value: name.Marshal()}
	remove := wire.Write{Action: wire.Remove, Version: 2, Record: 5, Key: []byte("name"), Value: name.Marshal()}

	if _, err := db.Accept(add); err != nil {
		t.Fatalf("Accept(add): %v", err)
	}
	if _, err := db.Accept(remove); err != nil {
		t.Fatalf("Accept(remove): %v", err)
	}

	got, err := db.Select(family.Identifier(5), "name")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Select after remove = %+v, want empty", got)
	}

	ids, err := db.Find("name", family.OpEqual, name)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("Find after remove = %v, want empty", ids)
	}
}

func TestSyncPersistsSealedIDsAcrossReopen(t *testing.T) {
	dir := tmpDBDir(t)
	clock := storeio.NewMonotonicClock()
	db, err := Open(dir, clock, DefaultRotateThreshold, 64, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w := wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: vtype.Text("dan").Marshal()}
	if _, err := db.Accept(w); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := db.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, clock, DefaultRotateThreshold, 64, 2)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Select(family.Identifier(1), "name")
	if err != nil {
		t.Fatalf("Select after reopen: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Select after reopen = %+v, want exactly dan", got)
	}
	if text, ok := got[0].AsText(); !ok || text != "dan" {
		t.Fatalf("Select after reopen = %v, want dan", got[0])
	}
}
