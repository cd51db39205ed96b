package family

import (
	"encoding/binary"
	"fmt"

	"github.com/azmodb/concourse/pkg/vtype"
)

// EncodeIdentifier renders an Identifier as the fixed 8-byte big-endian
// form used as a Primary-family locator and an Index-family value.
func EncodeIdentifier(id Identifier) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// DecodeIdentifier reverses EncodeIdentifier.
func DecodeIdentifier(buf []byte) (Identifier, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("family: identifier must be 8 bytes, got %d", len(buf))
	}
	return Identifier(binary.BigEndian.Uint64(buf)), nil
}

// EncodeText renders Text as its raw UTF-8 bytes; Text has no framing of
// its own because every caller already knows its length from the
// surrounding revision's key/locator size fields (spec section 6).
func EncodeText(s string) []byte { return []byte(s) }

// DecodeText reverses EncodeText.
func DecodeText(buf []byte) string { return string(buf) }

// EncodeValue renders a tagged Value via pkg/vtype's wire form.
func EncodeValue(v Value) []byte { return v.Marshal() }

// DecodeValue reverses EncodeValue.
func DecodeValue(buf []byte) (Value, error) { return vtype.Unmarshal(buf) }

// EncodePosition renders Position as record:8 | index:8 (big-endian).
func EncodePosition(p Position) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.Record))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.Index))
	return buf
}

// DecodePosition reverses EncodePosition.
func DecodePosition(buf []byte) (Position, error) {
	if len(buf) != 16 {
		return Position{}, fmt.Errorf("family: position must be 16 bytes, got %d", len(buf))
	}
	return Position{
		Record: Identifier(binary.BigEndian.Uint64(buf[0:8])),
		Index:  int(binary.BigEndian.Uint64(buf[8:16])),
	}, nil
}

// PrimaryLocator builds the locator bytes for a Primary-family revision:
// the record identifier.
func PrimaryLocator(id Identifier) []byte { return EncodeIdentifier(id) }

// PrimaryKey builds the key bytes for a Primary-family revision: the
// field name.
func PrimaryKey(field string) []byte { return EncodeText(field) }

// IndexLocator builds the locator bytes for an Index-family revision:
// the field name.
func IndexLocator(field string) []byte { return EncodeText(field) }

// IndexKey builds the key bytes for an Index-family revision: the
// field's value.
func IndexKey(v Value) []byte { return EncodeValue(v) }

// SearchLocator builds the locator bytes for a Search-family revision:
// the field name.
func SearchLocator(field string) []byte { return EncodeText(field) }

// SearchKey builds the key bytes for a Search-family revision: the
// indexed token.
func SearchKey(token string) []byte { return EncodeText(token) }
