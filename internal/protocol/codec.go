package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Checksum returns the reflected CRC32 (poly 0xEDB88320, init 0xFFFFFFFF,
// final complement) of b. The empty input checksums to 0.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// BuildPDU writes header, payload and CRC32 trailer into out and returns the
// number of bytes written. h.PayloadLen must equal len(payload).
func BuildPDU(h Header, payload []byte, out []byte) (int, error) {
	if len(payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLarge
	}
	if int(h.PayloadLen) != len(payload) {
		return 0, fmt.Errorf("%w: header says %d, payload is %d", ErrLengthMismatch, h.PayloadLen, len(payload))
	}
	size := Overhead + len(payload)
	if len(out) < size {
		return 0, ErrShortBuffer
	}
	if _, err := PutHeader(out, h); err != nil {
		return 0, err
	}
	copy(out[HeaderSize:], payload)
	binary.BigEndian.PutUint32(out[HeaderSize+len(payload):size], Checksum(payload))
	return size, nil
}

// EncodePDU allocates and returns a complete PDU for h and payload.
func EncodePDU(h Header, payload []byte) ([]byte, error) {
	buf := make([]byte, Overhead+len(payload))
	n, err := BuildPDU(h, payload, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ParsePDU validates and decodes a complete PDU. The payload length is taken
// from the buffer and must agree with the header's declared length. The
// returned payload is a copy and does not alias buf.
func ParsePDU(buf []byte) (Header, []byte, error) {
	if len(buf) < Overhead {
		return Header{}, nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortBuffer, len(buf), Overhead)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}

	n := len(buf) - Overhead
	if int(h.PayloadLen) != n {
		return Header{}, nil, fmt.Errorf("%w: header says %d, frame carries %d", ErrLengthMismatch, h.PayloadLen, n)
	}

	body := buf[HeaderSize : HeaderSize+n]
	want := binary.BigEndian.Uint32(buf[HeaderSize+n:])
	if got := Checksum(body); got != want {
		return Header{}, nil, fmt.Errorf("%w: got %08x, trailer %08x", ErrChecksum, got, want)
	}

	payload := make([]byte, n)
	copy(payload, body)
	return h, payload, nil
}
