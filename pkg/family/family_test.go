package family

import (
	"testing"

	"github.com/azmodb/concourse/pkg/vtype"
	"github.com/azmodb/concourse/pkg/wire"
)

func TestIdentifierRoundTrip(t *testing.T) {
	id := Identifier(0xdeadbeef)
	buf := EncodeIdentifier(id)
	got, err := DecodeIdentifier(buf)
	if err != nil {
		t.Fatalf("DecodeIdentifier: %v", err)
	}
	if got != id {
		t.Fatalf("DecodeIdentifier = %d, want %d", got, id)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	p := Position{Record: 42, Index: 7}
	buf := EncodePosition(p)
	got, err := DecodePosition(buf)
	if err != nil {
		t.Fatalf("DecodePosition: %v", err)
	}
	if got != p {
		t.Fatalf("DecodePosition = %+v, want %+v", got, p)
	}
}

func TestPrimaryLocatorKeyShape(t *testing.T) {
	loc := PrimaryLocator(Identifier(9))
	if len(loc) != 8 {
		t.Fatalf("PrimaryLocator len = %d, want 8", len(loc))
	}
	if string(PrimaryKey("name")) != "name" {
		t.Fatalf("PrimaryKey = %q, want %q", PrimaryKey("name"), "name")
	}
}

func TestRecordApplyTracksPresence(t *testing.T) {
	r := NewRecord(PrimaryLocator(Identifier(1)))

	alice := EncodeValue(vtype.Text("alice"))
	bob := EncodeValue(vtype.Text("bob"))

	revs := []wire.Revision{
		{Action: wire.Add, Version: 1, Key: []byte("name"), Value: alice},
		{Action: wire.Add, Version: 2, Key: []byte("name"), Value: bob},
		{Action: wire.Remove, Version: 3, Key: []byte("name"), Value: alice},
	}
	for _, rev := range revs {
		r.Apply(rev)
	}

	present := r.Present("name")
	if len(present) != 1 {
		t.Fatalf("Present(name) = %+v, want exactly bob", present)
	}
	decoded := r.PresentValues("name", DecodeValue)
	if len(decoded) != 1 {
		t.Fatalf("PresentValues(name) = %+v, want exactly bob", decoded)
	}
	if text, ok := decoded[0].AsText(); !ok || text != "bob" {
		t.Fatalf("PresentValues(name)[0] = %v, want bob", decoded[0])
	}

	hist := r.History("name")
	if len(hist) != 3 {
		t.Fatalf("History(name) len = %d, want 3", len(hist))
	}

	keys := r.Keys()
	if len(keys) != 1 || keys[0] != "name" {
		t.Fatalf("Keys() = %v, want [name]", keys)
	}
}

func TestRecordApplyRemoveOfAbsentIsNoop(t *testing.T) {
	r := NewRecord(PrimaryLocator(Identifier(2)))
	alice := EncodeValue(vtype.Text("alice"))

	r.Apply(wire.Revision{Action: wire.Remove, Version: 1, Key: []byte("name"), Value: alice})
	if got := r.Present("name"); len(got) != 0 {
		t.Fatalf("Present(name) = %+v, want empty", got)
	}
}
