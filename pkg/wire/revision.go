// Package wire implements the persisted binary layouts named in the
// external interfaces: the in-block Revision record and the buffer-page
// Write record. Locator/key/value are stored as opaque byte strings here;
// pkg/family supplies the typed codecs that turn family-specific
// Identifier/Text/Value/Position values into these bytes.
package wire

import (
	"encoding/binary"
	"errors"
)

// Action distinguishes an ADD revision from a REMOVE.
type Action uint8

const (
	Add Action = iota
	Remove
)

func (a Action) String() string {
	if a == Remove {
		return "remove"
	}
	return "add"
}

var (
	ErrShortBuffer = errors.New("wire: buffer too short")
	ErrBadAction   = errors.New("wire: invalid action byte")
)

// Revision is the on-disk form of a Revision<L,K,V>: action:1 | version:8
// | locatorSize:4 | keySize:4 | valueSize:4 | locator | key | value.
type Revision struct {
	Action  Action
	Version uint64
	Locator []byte
	Key     []byte
	Value   []byte
}

// Size returns the encoded length of r.
func (r Revision) Size() int {
	return 1 + 8 + 4 + 4 + 4 + len(r.Locator) + len(r.Key) + len(r.Value)
}

// AppendTo appends r's encoding to buf, returning the extended slice.
func (r Revision) AppendTo(buf []byte) []byte {
	var hdr [21]byte
	hdr[0] = byte(r.Action)
	binary.BigEndian.PutUint64(hdr[1:9], r.Version)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(r.Locator)))
	binary.BigEndian.PutUint32(hdr[13:17], uint32(len(r.Key)))
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(r.Value)))

	buf = append(buf, hdr[:]...)
	buf = append(buf, r.Locator...)
	buf = append(buf, r.Key...)
	buf = append(buf, r.Value...)
	return buf
}

// Marshal encodes r into a freshly allocated slice.
func (r Revision) Marshal() []byte {
	return r.AppendTo(make([]byte, 0, r.Size()))
}

// DecodeRevision parses a Revision from the front of buf, returning the
// number of bytes consumed. The returned Revision's byte slices alias buf.
func DecodeRevision(buf []byte) (Revision, int, error) {
	if len(buf) < 21 {
		return Revision{}, 0, ErrShortBuffer
	}
	action := Action(buf[0])
	if action != Add && action != Remove {
		return Revision{}, 0, ErrBadAction
	}
	version := binary.BigEndian.Uint64(buf[1:9])
	locSize := int(binary.BigEndian.Uint32(buf[9:13]))
	keySize := int(binary.BigEndian.Uint32(buf[13:17]))
	valSize := int(binary.BigEndian.Uint32(buf[17:21]))

	off := 21
	need := off + locSize + keySize + valSize
	if len(buf) < need {
		return Revision{}, 0, ErrShortBuffer
	}

	rev := Revision{
		Action:  action,
		Version: version,
		Locator: buf[off : off+locSize],
		Key:     buf[off+locSize : off+locSize+keySize],
		Value:   buf[off+locSize+keySize : need],
	}
	return rev, need, nil
}

// LengthPrefixed wraps a Revision (or Write) encoding with the 4-byte
// length prefix used by block files and buffer pages: "(4B len, bytes)".
func LengthPrefixed(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// DecodeLengthPrefixed reads one (4B len, bytes) record from the front of
// buf, returning the payload slice (aliasing buf) and bytes consumed.
func DecodeLengthPrefixed(buf []byte) (payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint32(buf[0:4]))
	if len(buf) < 4+n {
		return nil, 0, ErrShortBuffer
	}
	return buf[4 : 4+n], 4 + n, nil
}
