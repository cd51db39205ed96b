package token

import "testing"

func TestTokenBytesDistinguishKinds(t *testing.T) {
	a := ForRecord(1)
	b := ForKeyRecord("name", 1)
	c := ForKey("name")

	if a.String() == b.String() || b.String() == c.String() || a.String() == c.String() {
		t.Fatalf("distinct token kinds produced equal byte encodings: %q %q %q", a, b, c)
	}
}

func TestTokenLessIsConsistentOrdering(t *testing.T) {
	a := ForRecord(1)
	b := ForRecord(2)
	if !a.Less(b) {
		t.Fatalf("ForRecord(1).Less(ForRecord(2)) = false, want true")
	}
	if b.Less(a) == a.Less(b) {
		t.Fatalf("Less is not antisymmetric for distinct tokens")
	}
}

func TestTableLockUnlock(t *testing.T) {
	tbl := NewTable()
	tok := ForRecord(1)

	h1 := tbl.RLock(tok)
	h2 := tbl.RLock(tok)
	h1.Unlock()
	h2.Unlock()

	h3 := tbl.Lock(tok)
	h3.Unlock()
}

func TestTableUpgrade(t *testing.T) {
	tbl := NewTable()
	tok := ForKeyRecord("name", 1)

	h := tbl.RLock(tok)
	h = h.Upgrade()
	if !h.exclusive {
		t.Fatalf("Upgrade did not produce an exclusive handle")
	}
	h.Unlock()
}
