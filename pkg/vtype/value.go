// Package vtype implements the tagged Value union used as the value type
// of every revision family, plus its wire encoding and comparator.
package vtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind identifies which variant of Value is populated.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindText
	KindTag
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindText:
		return "text"
	case KindTag:
		return "tag"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union over {bool, i32, i64, f32, f64, Text, Tag, Link}.
// It is immutable once constructed.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	link uint64 // record id, valid when kind == KindLink
}

func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }
func Int32(v int32) Value     { return Value{kind: KindInt32, i: int64(v)} }
func Int64(v int64) Value     { return Value{kind: KindInt64, i: v} }
func Float32(v float32) Value { return Value{kind: KindFloat32, f: float64(v)} }
func Float64(v float64) Value { return Value{kind: KindFloat64, f: v} }
func Text(v string) Value     { return Value{kind: KindText, s: v} }
func Tag(v string) Value      { return Value{kind: KindTag, s: v} }
func Link(record uint64) Value {
	return Value{kind: KindLink, link: record}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt32() (int32, bool)     { return int32(v.i), v.kind == KindInt32 }
func (v Value) AsInt64() (int64, bool)     { return v.i, v.kind == KindInt64 }
func (v Value) AsFloat32() (float32, bool) { return float32(v.f), v.kind == KindFloat32 }
func (v Value) AsFloat64() (float64, bool) { return v.f, v.kind == KindFloat64 }
func (v Value) AsText() (string, bool)     { return v.s, v.kind == KindText }
func (v Value) AsTag() (string, bool)      { return v.s, v.kind == KindTag }
func (v Value) AsLink() (uint64, bool)     { return v.link, v.kind == KindLink }

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindText, KindTag:
		return v.s
	case KindLink:
		return fmt.Sprintf("@%d", v.link)
	default:
		return "<invalid value>"
	}
}

var errShortBuffer = errors.New("vtype: buffer too short")

// Marshal encodes v as a 1-byte type tag followed by its payload.
func (v Value) Marshal() []byte {
	switch v.kind {
	case KindBool:
		buf := make([]byte, 2)
		buf[0] = byte(v.kind)
		if v.b {
			buf[1] = 1
		}
		return buf
	case KindInt32:
		buf := make([]byte, 1+4)
		buf[0] = byte(v.kind)
		binary.BigEndian.PutUint32(buf[1:], uint32(int32(v.i)))
		return buf
	case KindInt64, KindLink:
		buf := make([]byte, 1+8)
		buf[0] = byte(v.kind)
		n := uint64(v.i)
		if v.kind == KindLink {
			n = v.link
		}
		binary.BigEndian.PutUint64(buf[1:], n)
		return buf
	case KindFloat32:
		buf := make([]byte, 1+4)
		buf[0] = byte(v.kind)
		binary.BigEndian.PutUint32(buf[1:], math.Float32bits(float32(v.f)))
		return buf
	case KindFloat64:
		buf := make([]byte, 1+8)
		buf[0] = byte(v.kind)
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.f))
		return buf
	case KindText, KindTag:
		buf := make([]byte, 1+len(v.s))
		buf[0] = byte(v.kind)
		copy(buf[1:], v.s)
		return buf
	default:
		panic(fmt.Sprintf("vtype: marshal of invalid value kind %d", v.kind))
	}
}

// Unmarshal decodes a Value previously produced by Marshal.
func Unmarshal(buf []byte) (Value, error) {
	if len(buf) < 1 {
		return Value{}, errShortBuffer
	}
	kind := Kind(buf[0])
	payload := buf[1:]

	switch kind {
	case KindBool:
		if len(payload) < 1 {
			return Value{}, errShortBuffer
		}
		return Bool(payload[0] != 0), nil
	case KindInt32:
		if len(payload) < 4 {
			return Value{}, errShortBuffer
		}
		return Int32(int32(binary.BigEndian.Uint32(payload))), nil
	case KindInt64:
		if len(payload) < 8 {
			return Value{}, errShortBuffer
		}
		return Int64(int64(binary.BigEndian.Uint64(payload))), nil
	case KindFloat32:
		if len(payload) < 4 {
			return Value{}, errShortBuffer
		}
		return Float32(math.Float32frombits(binary.BigEndian.Uint32(payload))), nil
	case KindFloat64:
		if len(payload) < 8 {
			return Value{}, errShortBuffer
		}
		return Float64(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case KindText:
		return Text(string(payload)), nil
	case KindTag:
		return Tag(string(payload)), nil
	case KindLink:
		if len(payload) < 8 {
			return Value{}, errShortBuffer
		}
		return Link(binary.BigEndian.Uint64(payload)), nil
	default:
		return Value{}, fmt.Errorf("vtype: unknown value kind %d", kind)
	}
}
