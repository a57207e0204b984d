package protocol

import "encoding/binary"

// Ack confirms every chunk of MessageID up to and including Highest.
type Ack struct {
	MessageID uint32
	Highest   uint32
}

// IsAck reports whether h has the exact shape of an acknowledgment header.
func IsAck(h Header) bool {
	return h.Type == TypeAck && h.Seq == 0 && h.Total == 0 && h.PayloadLen == AckPayloadSize
}

// BuildAck encodes a as an ACK PDU. It returns nil if encoding fails.
func BuildAck(a Ack) []byte {
	var payload [AckPayloadSize]byte
	binary.BigEndian.PutUint32(payload[0:4], a.MessageID)
	binary.BigEndian.PutUint32(payload[4:8], a.Highest)

	pdu, err := EncodePDU(Header{
		Type:       TypeAck,
		MessageID:  a.MessageID,
		PayloadLen: AckPayloadSize,
	}, payload[:])
	if err != nil {
		return nil
	}
	return pdu
}

// ParseAck decodes an ACK PDU. It returns false if buf is not a well-formed
// ack: wrong header shape, bad checksum, or a payload message ID that
// disagrees with the header.
func ParseAck(buf []byte) (Ack, bool) {
	if len(buf) < AckSize {
		return Ack{}, false
	}
	h, err := ParseHeader(buf)
	if err != nil || !IsAck(h) {
		return Ack{}, false
	}

	payload := buf[HeaderSize : HeaderSize+AckPayloadSize]
	if binary.BigEndian.Uint32(buf[HeaderSize+AckPayloadSize:AckSize]) != Checksum(payload) {
		return Ack{}, false
	}

	a := Ack{
		MessageID: binary.BigEndian.Uint32(payload[0:4]),
		Highest:   binary.BigEndian.Uint32(payload[4:8]),
	}
	if a.MessageID != h.MessageID {
		return Ack{}, false
	}
	return a, true
}
