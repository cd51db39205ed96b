package vtype

import "testing"

func TestMarshalRoundTrip(t *testing.T) {
	values := []Value{
		Bool(true),
		Bool(false),
		Int32(-7),
		Int64(1 << 40),
		Float32(3.5),
		Float64(-2.25),
		Text("hello"),
		Tag("World"),
		Link(42),
	}

	for _, v := range values {
		buf := v.Marshal()
		got, err := Unmarshal(buf)
		if err != nil {
			t.Fatalf("unmarshal %v: %v", v, err)
		}
		if !Equal(got, v) {
			t.Fatalf("round trip: expected %v, got %v", v, got)
		}
	}
}

func TestCompareNumeric(t *testing.T) {
	if Compare(Int32(5), Int64(5)) != 0 {
		t.Fatalf("int32(5) should equal int64(5)")
	}
	if Compare(Float64(1.5), Int32(2)) >= 0 {
		t.Fatalf("1.5 should be less than 2")
	}
	if Compare(Int64(10), Float32(9.5)) <= 0 {
		t.Fatalf("10 should be greater than 9.5")
	}
}

func TestCompareTagText(t *testing.T) {
	if Compare(Tag("jeff"), Text("JEFF")) != 0 {
		t.Fatalf("tag/text should be equal case-insensitively")
	}
	if c := Compare(Tag("Jeff"), Text("jess")); c >= 0 {
		t.Fatalf("expected Jeff < jess by byte order once not fold-equal, got %d", c)
	}
}

func TestCompareLink(t *testing.T) {
	if Compare(Link(1), Link(2)) >= 0 {
		t.Fatalf("link 1 should be less than link 2")
	}
}
