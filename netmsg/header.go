package netmsg

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderLen is the fixed size of the message header. It is also the
	// minimum length of any valid message.
	HeaderLen = 40

	// MaxMsgSize is the largest message a peer is allowed to send.
	MaxMsgSize = 65536

	// DataVersion goes into the low half of the header prefix.
	DataVersion uint64 = 0

	// Prefix identifies a message header on the wire.
	Prefix uint64 = 0x42474653<<32 | DataVersion
)

// Header flags.
const (
	FlagBuddyMirrorSecond uint8 = 0x01
	FlagIsSelectiveAck    uint8 = 0x02
	FlagHasSequenceNo     uint8 = 0x04
	FlagsMask             uint8 = 0x07
)

var (
	ErrShortHeader = errors.New("buffer shorter than message header")
	ErrBadPrefix   = errors.New("bad message prefix")
	ErrBadLength   = errors.New("bad message length")
	ErrBadFlags    = errors.New("unknown message flags")
)

// Header is the fixed part of every message. All fields are little-endian:
//
//	length u32 | featureFlags u16 | compatFeatureFlags u8 | flags u8 |
//	prefix u64 | type u16 | targetID u16 | userID u32 |
//	sequence u64 | sequenceDone u64
//
// Length is the total message length including the header.
type Header struct {
	Length             uint32
	FeatureFlags       uint16
	CompatFeatureFlags uint8
	Flags              uint8
	Type               Type
	TargetID           uint16
	UserID             uint32
	Sequence           uint64
	SequenceDone       uint64
}

func (h *Header) HasFlag(flag uint8) bool {
	return h.Flags&flag != 0
}

func (h *Header) SetFlag(flag uint8) {
	h.Flags |= flag
}

func (h *Header) ClearFlag(flag uint8) {
	h.Flags &^= flag
}

func encodeHeader(h *Header, b []byte) error {
	if len(b) < HeaderLen {
		return ErrShortHeader
	}

	binary.LittleEndian.PutUint32(b[0:4], h.Length)
	binary.LittleEndian.PutUint16(b[4:6], h.FeatureFlags)
	b[6] = h.CompatFeatureFlags
	b[7] = h.Flags
	binary.LittleEndian.PutUint64(b[8:16], Prefix)
	binary.LittleEndian.PutUint16(b[16:18], uint16(h.Type))
	binary.LittleEndian.PutUint16(b[18:20], h.TargetID)
	binary.LittleEndian.PutUint32(b[20:24], h.UserID)
	binary.LittleEndian.PutUint64(b[24:32], h.Sequence)
	binary.LittleEndian.PutUint64(b[32:40], h.SequenceDone)

	return nil
}

func decodeHeader(h *Header, b []byte) error {
	if len(b) < HeaderLen {
		return ErrShortHeader
	}

	if binary.LittleEndian.Uint64(b[8:16]) != Prefix {
		return ErrBadPrefix
	}

	h.Length = binary.LittleEndian.Uint32(b[0:4])
	h.FeatureFlags = binary.LittleEndian.Uint16(b[4:6])
	h.CompatFeatureFlags = b[6]
	h.Flags = b[7]
	h.Type = Type(binary.LittleEndian.Uint16(b[16:18]))
	h.TargetID = binary.LittleEndian.Uint16(b[18:20])
	h.UserID = binary.LittleEndian.Uint32(b[20:24])
	h.Sequence = binary.LittleEndian.Uint64(b[24:32])
	h.SequenceDone = binary.LittleEndian.Uint64(b[32:40])

	if h.Flags&^FlagsMask != 0 {
		return ErrBadFlags
	}

	return nil
}

// ExtractLength returns the total message length declared in the header
// bytes, without validating anything else.
func ExtractLength(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[0:4])
}
