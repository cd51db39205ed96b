package listen

import (
	"testing"

	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/vtype"
)

type countingListener struct{ fired int }

func (c *countingListener) OnVersionChange() { c.fired++ }

func TestNotifyWritePointMatches(t *testing.T) {
	r := NewRegistry()
	l := &countingListener{}
	r.RegisterPoint(token.ForKeyRecord("name", 1), 100, l)

	r.NotifyWrite("name", 1, vtype.Text("alice"))
	if l.fired != 1 {
		t.Fatalf("fired = %d, want 1", l.fired)
	}

	r.NotifyWrite("name", 2, vtype.Text("bob"))
	if l.fired != 1 {
		t.Fatalf("fired after unrelated write = %d, want 1", l.fired)
	}
}

func TestNotifyWriteRangeMatches(t *testing.T) {
	r := NewRegistry()
	l := &countingListener{}
	r.RegisterRange(200, RangeMatcher{
		Key: "age",
		Matches: func(v vtype.Value) bool {
			n, ok := v.AsInt64()
			return ok && n > 18
		},
	}, l)

	r.NotifyWrite("age", 1, vtype.Int64(30))
	if l.fired != 1 {
		t.Fatalf("fired = %d, want 1", l.fired)
	}

	r.NotifyWrite("age", 1, vtype.Int64(10))
	if l.fired != 1 {
		t.Fatalf("fired after non-matching value = %d, want 1", l.fired)
	}
}

func TestUnregisterStopsNotification(t *testing.T) {
	r := NewRegistry()
	l := &countingListener{}
	r.RegisterPoint(token.ForRecord(1), 300, l)
	r.Unregister(300)

	r.NotifyWrite("any", 1, vtype.Bool(true))
	if l.fired != 0 {
		t.Fatalf("fired after Unregister = %d, want 0", l.fired)
	}
}
