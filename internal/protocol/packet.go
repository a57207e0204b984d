// Package protocol defines the linkchat wire format: a fixed 15-byte header,
// an opaque payload and a CRC32 trailer computed over the payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies what a PDU carries.
type Type uint8

// Packet type constants.
const (
	TypeMsg   Type = 0x01 // Text message chunk
	TypeFile  Type = 0x02 // File chunk (name envelope + bytes)
	TypeAck   Type = 0x03 // Cumulative acknowledgment
	TypeHello Type = 0x04 // Presence announcement
)

// Wire sizes.
const (
	HeaderSize     = 15 // Type(1) + MessageID(4) + Seq(4) + Total(4) + PayloadLen(2)
	CRCSize        = 4
	Overhead       = HeaderSize + CRCSize
	AckPayloadSize = 8
	AckSize        = Overhead + AckPayloadSize
	MinMTU         = Overhead + 1
	MaxPayloadSize = 0xFFFF
)

// Header field offsets.
const (
	offType  = 0
	offMsgID = 1
	offSeq   = 5
	offTotal = 9
	offLen   = 13
)

var (
	ErrShortBuffer     = errors.New("protocol: buffer too short")
	ErrUnknownType     = errors.New("protocol: unknown packet type")
	ErrChecksum        = errors.New("protocol: checksum mismatch")
	ErrLengthMismatch  = errors.New("protocol: payload length mismatch")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrMTUTooSmall     = errors.New("protocol: mtu leaves no room for payload")
	ErrEmptyMessage    = errors.New("protocol: empty message")
)

// Valid reports whether t is one of the four known packet types.
func (t Type) Valid() bool {
	switch t {
	case TypeMsg, TypeFile, TypeAck, TypeHello:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case TypeMsg:
		return "MSG"
	case TypeFile:
		return "FILE"
	case TypeAck:
		return "ACK"
	case TypeHello:
		return "HELLO"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Header is the fixed PDU header. For data packets Seq < Total and Total > 0.
type Header struct {
	Type       Type
	MessageID  uint32 // Sender-assigned, unique per outbound message
	Seq        uint32 // Chunk index within the message
	Total      uint32 // Number of chunks in the message
	PayloadLen uint16
}

// PutHeader writes h into buf using the big-endian wire layout and returns
// the number of bytes written.
func PutHeader(buf []byte, h Header) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrShortBuffer
	}
	if !h.Type.Valid() {
		return 0, ErrUnknownType
	}
	buf[offType] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[offMsgID:offSeq], h.MessageID)
	binary.BigEndian.PutUint32(buf[offSeq:offTotal], h.Seq)
	binary.BigEndian.PutUint32(buf[offTotal:offLen], h.Total)
	binary.BigEndian.PutUint16(buf[offLen:HeaderSize], h.PayloadLen)
	return HeaderSize, nil
}

// ParseHeader decodes the first HeaderSize bytes of buf. Unknown type bytes
// are rejected rather than defaulted.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortBuffer, len(buf), HeaderSize)
	}
	t := Type(buf[offType])
	if !t.Valid() {
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, buf[offType])
	}
	return Header{
		Type:       t,
		MessageID:  binary.BigEndian.Uint32(buf[offMsgID:offSeq]),
		Seq:        binary.BigEndian.Uint32(buf[offSeq:offTotal]),
		Total:      binary.BigEndian.Uint32(buf[offTotal:offLen]),
		PayloadLen: binary.BigEndian.Uint16(buf[offLen:HeaderSize]),
	}, nil
}

// FrameLen returns the on-wire length of a PDU carrying h.
func FrameLen(h Header) int {
	return Overhead + int(h.PayloadLen)
}
