package limbo

import (
	"testing"

	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

func mustValue(t *testing.T, v vtype.Value) []byte {
	t.Helper()
	return v.Marshal()
}

func TestQueueVerifyOddEven(t *testing.T) {
	q := NewQueue()
	alice := mustValue(t, vtype.Text("alice"))

	if err := q.Insert(wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: alice}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !q.Verify([]byte("name"), alice, 1, 1) {
		t.Fatalf("Verify after one ADD = false, want true")
	}

	if err := q.Insert(wire.Write{Action: wire.Remove, Version: 2, Record: 1, Key: []byte("name"), Value: alice}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if q.Verify([]byte("name"), alice, 1, 2) {
		t.Fatalf("Verify after ADD+REMOVE = true, want false")
	}
	if !q.Verify([]byte("name"), alice, 1, 1) {
		t.Fatalf("Verify at version 1 (before REMOVE) = false, want true")
	}
}

func TestQueueSelectTogglesPresence(t *testing.T) {
	q := NewQueue()
	alice := mustValue(t, vtype.Text("alice"))
	bob := mustValue(t, vtype.Text("bob"))

	writes := []wire.Write{
		{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: alice},
		{Action: wire.Add, Version: 2, Record: 1, Key: []byte("name"), Value: bob},
		{Action: wire.Remove, Version: 3, Record: 1, Key: []byte("name"), Value: alice},
	}
	for _, w := range writes {
		if err := q.Insert(w); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got := q.Select([]byte("name"), 1, 3)
	if len(got) != 1 {
		t.Fatalf("Select = %+v, want exactly bob", got)
	}
	if text, ok := got[0].AsText(); !ok || text != "bob" {
		t.Fatalf("Select[0] = %v, want bob", got[0])
	}

	gotEarlier := q.Select([]byte("name"), 1, 2)
	if len(gotEarlier) != 2 {
		t.Fatalf("Select at version 2 = %+v, want [alice bob]", gotEarlier)
	}
}

func TestQueueFindIntersectsAndSupersets(t *testing.T) {
	q := NewQueue()
	red := vtype.Tag("red")
	blue := vtype.Tag("blue")

	writes := []wire.Write{
		{Action: wire.Add, Version: 1, Record: 1, Key: []byte("color"), Value: red.Marshal()},
		{Action: wire.Add, Version: 2, Record: 2, Key: []byte("color"), Value: blue.Marshal()},
		{Action: wire.Add, Version: 3, Record: 3, Key: []byte("color"), Value: red.Marshal()},
		{Action: wire.Add, Version: 4, Record: 3, Key: []byte("color"), Value: blue.Marshal()},
	}
	for _, w := range writes {
		if err := q.Insert(w); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got := q.Find([]byte("color"), OperatorIntersects, []vtype.Value{red}, 4)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("Find(intersects, red) = %v, want [1 3]", got)
	}

	got = q.Find([]byte("color"), OperatorSupersets, []vtype.Value{red, blue}, 4)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("Find(supersets, red+blue) = %v, want [3]", got)
	}
}

func TestTransactionQueueFilterShortCircuitsMiss(t *testing.T) {
	q := NewTransactionQueue(16)
	alice := mustValue(t, vtype.Text("alice"))

	if err := q.Insert(wire.Write{Action: wire.Add, Version: 1, Record: 1, Key: []byte("name"), Value: alice}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !q.Verify([]byte("name"), alice, 1, 1) {
		t.Fatalf("Verify present tuple = false, want true")
	}
	if q.Verify([]byte("name"), alice, 2, 1) {
		t.Fatalf("Verify absent tuple (different record) = true, want false")
	}
}
