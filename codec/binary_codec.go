package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/isabella232/mech/session"
)

var ErrShortBuffer = errors.New("BinaryCodec: short buffer")

// BinaryCodec encodes a session list as
//
//	count(4) | kind(1) idLen(2) id(n) | kind(1) idLen(2) id(n) | ...
//
// all integers big-endian.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	var list []session.Session
	switch s := v.(type) {
	case []session.Session:
		list = s
	case *[]session.Session:
		list = *s
	default:
		return nil, errors.New("BinaryCodec: v must be []session.Session")
	}

	// Calculate the length of the list
	total := 4
	for _, s := range list {
		if !s.Valid() {
			return nil, fmt.Errorf("BinaryCodec: %w: %s", session.ErrUnknownKind, s)
		}
		if len(s.ID) > 0xFFFF {
			return nil, fmt.Errorf("BinaryCodec: identifier too long (%d bytes)", len(s.ID))
		}
		total += 1 + 2 + len(s.ID)
	}
	buf := make([]byte, total)

	offset := 0
	// Count -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(list)))
	offset += 4

	for _, s := range list {
		// Kind -- 1 byte
		buf[offset] = byte(s.Kind)
		offset++

		// ID length -- 2 bytes
		binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s.ID)))
		offset += 2

		// ID -- n bytes
		copy(buf[offset:offset+len(s.ID)], s.ID)
		offset += len(s.ID)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	out, ok := v.(*[]session.Session)
	if !ok {
		return errors.New("BinaryCodec: v must be *[]session.Session")
	}
	if len(data) < 4 {
		return ErrShortBuffer
	}

	offset := 0
	count := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	list := make([]session.Session, 0, min(int(count), len(data)/3))
	for i := uint32(0); i < count; i++ {
		if len(data)-offset < 3 {
			return ErrShortBuffer
		}
		kind := session.Kind(data[offset])
		offset++
		idLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if len(data)-offset < idLen {
			return ErrShortBuffer
		}
		s := session.Session{Kind: kind, ID: string(data[offset : offset+idLen])}
		offset += idLen
		if !s.Valid() {
			return fmt.Errorf("BinaryCodec: %w: %s", session.ErrUnknownKind, s)
		}
		list = append(list, s)
	}

	*out = list
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
