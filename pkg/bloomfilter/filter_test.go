package bloomfilter

import "testing"

func TestMightContainGranularity(t *testing.T) {
	f := New(100, 0)
	loc, key, val := []byte("record-1"), []byte("name"), []byte("jeff")
	f.Add(loc, key, val)

	if !f.MightContain(loc, nil, nil) {
		t.Fatalf("expected locator-only lookup to be possibly present")
	}
	if !f.MightContain(loc, key, nil) {
		t.Fatalf("expected locator+key lookup to be possibly present")
	}
	if !f.MightContain(loc, key, val) {
		t.Fatalf("expected full composite lookup to be possibly present")
	}
	if f.MightContain([]byte("record-999"), nil, nil) {
		t.Fatalf("unrelated locator should almost certainly be absent")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	f := New(10, 0)
	f.Add([]byte("a"), []byte("b"), []byte("c"))

	data, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := UnmarshalBinary(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !restored.MightContain([]byte("a"), []byte("b"), []byte("c")) {
		t.Fatalf("restored filter lost its entry")
	}
}
