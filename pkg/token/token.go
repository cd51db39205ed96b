// Package token implements the point/range tokens used to identify what
// an AtomicOperation's reads and writes touch (spec sections 4.5, 4.6),
// plus a lock table holding one lock per distinct token, supporting the
// shared-to-exclusive upgrade the commit protocol needs.
package token

import "bytes"

// Kind names which of the three token shapes a Token wraps.
type Kind uint8

const (
	// Record wraps {record}: any field of one record.
	Record Kind = iota
	// KeyRecord wraps {key, record}: one field of one record.
	KeyRecord
	// Key wraps {key}: one field across every record.
	Key
)

// Token identifies a point a read or write touches, for the
// version-change listener registry and the lock table. Tokens compare
// by their canonical byte encoding, the order canonical-order lock
// acquisition (spec section 4.6) uses to avoid deadlock.
type Token struct {
	kind   Kind
	record uint64
	key    string
}

// ForRecord returns the token wrapping {record}.
func ForRecord(record uint64) Token { return Token{kind: Record, record: record} }

// ForKeyRecord returns the token wrapping {key, record}.
func ForKeyRecord(key string, record uint64) Token {
	return Token{kind: KeyRecord, key: key, record: record}
}

// ForKey returns the token wrapping {key}.
func ForKey(key string) Token { return Token{kind: Key, key: key} }

// Kind reports which shape this token wraps.
func (t Token) Kind() Kind { return t.kind }

// Bytes renders the token's canonical byte encoding: kind:1 | key | NUL
// | record:8 (fields absent from this token's kind are omitted).
func (t Token) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(t.kind))
	switch t.kind {
	case Record:
		writeUint64(&buf, t.record)
	case KeyRecord:
		buf.WriteString(t.key)
		buf.WriteByte(0)
		writeUint64(&buf, t.record)
	case Key:
		buf.WriteString(t.key)
	}
	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	buf.Write(tmp[:])
}

// Less orders tokens by their canonical byte encoding.
func (t Token) Less(other Token) bool {
	return bytes.Compare(t.Bytes(), other.Bytes()) < 0
}

// String renders the token's byte encoding for use as a map key.
func (t Token) String() string { return string(t.Bytes()) }
