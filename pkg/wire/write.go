package wire

import "encoding/binary"

// Write is a PrimaryRecord revision — Revision<Identifier, Text, Value> —
// the unit of mutation produced by the Engine on every add/remove. Key and
// Value are pre-encoded bytes: Key is raw UTF-8, Value is a vtype.Value
// marshaled form (1-byte type tag + payload).
type Write struct {
	Action  Action
	Version uint64
	Record  uint64
	Key     []byte
	Value   []byte
}

// Size returns the encoded length of w.
func (w Write) Size() int {
	return 1 + 8 + 8 + 4 + 4 + len(w.Key) + len(w.Value)
}

// AppendTo appends w's wire encoding (type:1 | version:8 | record:8 |
// keySize:4 | valueSize:4 | key | value) to buf.
func (w Write) AppendTo(buf []byte) []byte {
	var hdr [25]byte
	hdr[0] = byte(w.Action)
	binary.BigEndian.PutUint64(hdr[1:9], w.Version)
	binary.BigEndian.PutUint64(hdr[9:17], w.Record)
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(w.Key)))
	binary.BigEndian.PutUint32(hdr[21:25], uint32(len(w.Value)))

	buf = append(buf, hdr[:]...)
	buf = append(buf, w.Key...)
	buf = append(buf, w.Value...)
	return buf
}

// Marshal encodes w into a freshly allocated slice.
func (w Write) Marshal() []byte {
	return w.AppendTo(make([]byte, 0, w.Size()))
}

// DecodeWrite parses a Write from the front of buf, returning the number
// of bytes consumed. Key/Value alias buf.
func DecodeWrite(buf []byte) (Write, int, error) {
	if len(buf) < 25 {
		return Write{}, 0, ErrShortBuffer
	}
	action := Action(buf[0])
	if action != Add && action != Remove {
		return Write{}, 0, ErrBadAction
	}
	version := binary.BigEndian.Uint64(buf[1:9])
	record := binary.BigEndian.Uint64(buf[9:17])
	keySize := int(binary.BigEndian.Uint32(buf[17:21]))
	valSize := int(binary.BigEndian.Uint32(buf[21:25]))

	off := 25
	need := off + keySize + valSize
	if len(buf) < need {
		return Write{}, 0, ErrShortBuffer
	}

	w := Write{
		Action:  action,
		Version: version,
		Record:  record,
		Key:     buf[off : off+keySize],
		Value:   buf[off+keySize : need],
	}
	return w, need, nil
}

// Revision converts w into the generic Revision form used by the Primary
// family's block, keyed on record id.
func (w Write) Revision() Revision {
	var locator [8]byte
	binary.BigEndian.PutUint64(locator[:], w.Record)
	return Revision{
		Action:  w.Action,
		Version: w.Version,
		Locator: locator[:],
		Key:     w.Key,
		Value:   w.Value,
	}
}
