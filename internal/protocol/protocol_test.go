package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/1ureka/linkchat/internal/protocol"
)

// TestHeaderRoundTrip verifies that PutHeader and ParseHeader are inverse
// operations for every packet type and boundary field values.
func TestHeaderRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		h    protocol.Header
	}{
		{"MSG first chunk", protocol.Header{Type: protocol.TypeMsg, MessageID: 1, Seq: 0, Total: 3, PayloadLen: 15}},
		{"FILE last chunk", protocol.Header{Type: protocol.TypeFile, MessageID: 0xDEADBEEF, Seq: 99, Total: 100, PayloadLen: 1481}},
		{"ACK shape", protocol.Header{Type: protocol.TypeAck, MessageID: 7, PayloadLen: 8}},
		{"HELLO", protocol.Header{Type: protocol.TypeHello, MessageID: 42, Seq: 0, Total: 1, PayloadLen: 0}},
		{"max values", protocol.Header{Type: protocol.TypeMsg, MessageID: 0xFFFFFFFF, Seq: 0xFFFFFFFE, Total: 0xFFFFFFFF, PayloadLen: 0xFFFF}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, protocol.HeaderSize)
			n, err := protocol.PutHeader(buf, tc.h)
			if err != nil {
				t.Fatalf("PutHeader failed: %v", err)
			}
			if n != protocol.HeaderSize {
				t.Fatalf("PutHeader wrote %d bytes, want %d", n, protocol.HeaderSize)
			}

			got, err := protocol.ParseHeader(buf)
			if err != nil {
				t.Fatalf("ParseHeader failed: %v", err)
			}
			if got != tc.h {
				t.Errorf("Header mismatch: got %+v, want %+v", got, tc.h)
			}
		})
	}
}

// TestHeaderByteLayout pins the exact big-endian wire layout.
func TestHeaderByteLayout(t *testing.T) {
	h := protocol.Header{Type: protocol.TypeFile, MessageID: 0x01020304, Seq: 0x05060708, Total: 0x090A0B0C, PayloadLen: 0x0D0E}
	buf := make([]byte, protocol.HeaderSize)
	if _, err := protocol.PutHeader(buf, h); err != nil {
		t.Fatalf("PutHeader failed: %v", err)
	}

	want := []byte{0x02, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	if !bytes.Equal(buf, want) {
		t.Errorf("Layout mismatch:\n got  % x\n want % x", buf, want)
	}
}

// TestParseHeaderRejects verifies that short buffers and unknown type bytes
// are rejected instead of defaulted.
func TestParseHeaderRejects(t *testing.T) {
	valid := make([]byte, protocol.HeaderSize)
	valid[0] = byte(protocol.TypeMsg)

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", []byte{}, protocol.ErrShortBuffer},
		{"14 bytes", valid[:14], protocol.ErrShortBuffer},
		{"type 0", append([]byte{0x00}, valid[1:]...), protocol.ErrUnknownType},
		{"type 5", append([]byte{0x05}, valid[1:]...), protocol.ErrUnknownType},
		{"type 0xFF", append([]byte{0xFF}, valid[1:]...), protocol.ErrUnknownType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.ParseHeader(tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

// TestPutHeaderRejects verifies the capacity and type preconditions.
func TestPutHeaderRejects(t *testing.T) {
	if _, err := protocol.PutHeader(make([]byte, 14), protocol.Header{Type: protocol.TypeMsg}); !errors.Is(err, protocol.ErrShortBuffer) {
		t.Errorf("short buffer: expected ErrShortBuffer, got %v", err)
	}
	if _, err := protocol.PutHeader(make([]byte, 15), protocol.Header{Type: 9}); !errors.Is(err, protocol.ErrUnknownType) {
		t.Errorf("bad type: expected ErrUnknownType, got %v", err)
	}
}

// TestChecksumKnownValues checks the CRC against the standard check value.
func TestChecksumKnownValues(t *testing.T) {
	if got := protocol.Checksum(nil); got != 0 {
		t.Errorf("Checksum(empty) = %08x, want 0", got)
	}
	if got := protocol.Checksum([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("Checksum(check string) = %08x, want cbf43926", got)
	}
	data := []byte("linkchat")
	if protocol.Checksum(data) != protocol.Checksum(data) {
		t.Error("Checksum is not deterministic")
	}
}

// TestPDURoundTrip verifies BuildPDU / ParsePDU over several payload sizes.
func TestPDURoundTrip(t *testing.T) {
	sizes := []int{0, 1, 15, 1481, protocol.MaxPayloadSize}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 251)
			}
			h := protocol.Header{Type: protocol.TypeMsg, MessageID: 9, Seq: 0, Total: 1, PayloadLen: uint16(size)}

			pdu, err := protocol.EncodePDU(h, payload)
			if err != nil {
				t.Fatalf("EncodePDU failed: %v", err)
			}
			if len(pdu) != protocol.Overhead+size {
				t.Fatalf("PDU length %d, want %d", len(pdu), protocol.Overhead+size)
			}

			gotH, gotP, err := protocol.ParsePDU(pdu)
			if err != nil {
				t.Fatalf("ParsePDU failed: %v", err)
			}
			if gotH != h {
				t.Errorf("Header mismatch: got %+v, want %+v", gotH, h)
			}
			if !bytes.Equal(gotP, payload) {
				t.Errorf("Payload mismatch for size %d", size)
			}
		})
	}
}

// TestBuildPDUPreconditions verifies that BuildPDU refuses inconsistent input.
func TestBuildPDUPreconditions(t *testing.T) {
	payload := []byte("hello")

	h := protocol.Header{Type: protocol.TypeMsg, Total: 1, PayloadLen: 4}
	if _, err := protocol.BuildPDU(h, payload, make([]byte, 64)); !errors.Is(err, protocol.ErrLengthMismatch) {
		t.Errorf("length mismatch: expected ErrLengthMismatch, got %v", err)
	}

	h.PayloadLen = 5
	if n, err := protocol.BuildPDU(h, payload, make([]byte, protocol.Overhead+4)); !errors.Is(err, protocol.ErrShortBuffer) || n != 0 {
		t.Errorf("short out: expected (0, ErrShortBuffer), got (%d, %v)", n, err)
	}
	if n, err := protocol.BuildPDU(h, payload, make([]byte, protocol.Overhead+5)); err != nil || n != protocol.Overhead+5 {
		t.Errorf("exact out: expected (%d, nil), got (%d, %v)", protocol.Overhead+5, n, err)
	}
}

// TestParsePDURejectsBitFlips flips every bit of the payload and trailer and
// expects each corrupted frame to be rejected.
func TestParsePDURejectsBitFlips(t *testing.T) {
	payload := []byte("bit flips must never pass")
	h := protocol.Header{Type: protocol.TypeMsg, MessageID: 3, Total: 1, PayloadLen: uint16(len(payload))}
	pdu, err := protocol.EncodePDU(h, payload)
	if err != nil {
		t.Fatalf("EncodePDU failed: %v", err)
	}

	for i := protocol.HeaderSize; i < len(pdu); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := bytes.Clone(pdu)
			corrupted[i] ^= 1 << bit
			if _, _, err := protocol.ParsePDU(corrupted); !errors.Is(err, protocol.ErrChecksum) {
				t.Fatalf("byte %d bit %d: expected ErrChecksum, got %v", i, bit, err)
			}
		}
	}
}

// TestParsePDURejectsMalformed covers truncation and inconsistent lengths.
func TestParsePDURejectsMalformed(t *testing.T) {
	pdu, err := protocol.EncodePDU(protocol.Header{Type: protocol.TypeMsg, Total: 1, PayloadLen: 4}, []byte("abcd"))
	if err != nil {
		t.Fatalf("EncodePDU failed: %v", err)
	}

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"shorter than overhead", pdu[:protocol.Overhead-1], protocol.ErrShortBuffer},
		{"truncated payload", pdu[:len(pdu)-1], protocol.ErrLengthMismatch},
		{"trailing padding", append(bytes.Clone(pdu), 0, 0), protocol.ErrLengthMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := protocol.ParsePDU(tc.data); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

// TestParsePDUPreservesPayload verifies the payload is copied out of the frame.
func TestParsePDUPreservesPayload(t *testing.T) {
	pdu, _ := protocol.EncodePDU(protocol.Header{Type: protocol.TypeMsg, Total: 1, PayloadLen: 8}, []byte("original"))
	_, payload, err := protocol.ParsePDU(pdu)
	if err != nil {
		t.Fatalf("ParsePDU failed: %v", err)
	}

	pdu[protocol.HeaderSize] = 0xFF
	if !bytes.Equal(payload, []byte("original")) {
		t.Errorf("Payload was incorrectly aliased: got %q", payload)
	}
}

// TestAckRoundTrip verifies BuildAck / ParseAck and the ack header shape.
func TestAckRoundTrip(t *testing.T) {
	in := protocol.Ack{MessageID: 7, Highest: 3}
	pdu := protocol.BuildAck(in)
	if len(pdu) != protocol.AckSize {
		t.Fatalf("ack length %d, want %d", len(pdu), protocol.AckSize)
	}

	h, err := protocol.ParseHeader(pdu)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if !protocol.IsAck(h) {
		t.Fatalf("IsAck(%+v) = false", h)
	}

	out, ok := protocol.ParseAck(pdu)
	if !ok {
		t.Fatal("ParseAck rejected a valid ack")
	}
	if out != in {
		t.Errorf("Ack mismatch: got %+v, want %+v", out, in)
	}
}

// TestParseAckRejects covers every reason an ack is refused.
func TestParseAckRejects(t *testing.T) {
	valid := protocol.BuildAck(protocol.Ack{MessageID: 7, Highest: 3})

	corruptPayload := bytes.Clone(valid)
	corruptPayload[protocol.HeaderSize+5] ^= 0x01

	corruptTrailer := bytes.Clone(valid)
	corruptTrailer[len(corruptTrailer)-1] ^= 0x80

	// Header says message 7, payload says message 8, checksum is consistent.
	mismatched := bytes.Clone(valid)
	binary.BigEndian.PutUint32(mismatched[protocol.HeaderSize:], 8)
	binary.BigEndian.PutUint32(mismatched[protocol.HeaderSize+protocol.AckPayloadSize:],
		protocol.Checksum(mismatched[protocol.HeaderSize:protocol.HeaderSize+protocol.AckPayloadSize]))

	dataFrame, _ := protocol.EncodePDU(protocol.Header{Type: protocol.TypeMsg, MessageID: 7, Total: 1, PayloadLen: 8}, make([]byte, 8))

	nonZeroSeq := bytes.Clone(valid)
	nonZeroSeq[8] = 1

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:protocol.AckSize-1]},
		{"corrupted payload byte", corruptPayload},
		{"corrupted trailer", corruptTrailer},
		{"message id mismatch", mismatched},
		{"data frame", dataFrame},
		{"non-zero seq", nonZeroSeq},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if a, ok := protocol.ParseAck(tc.data); ok {
				t.Fatalf("ParseAck accepted %+v", a)
			}
		})
	}
}

// TestSegmentChunkSizes checks chunk count and payload boundaries.
func TestSegmentChunkSizes(t *testing.T) {
	testCases := []struct {
		name  string
		size  int
		mtu   int
		sizes []int
	}{
		{"40 bytes at mtu 34", 40, 34, []int{15, 15, 10}},
		{"exact multiple", 30, 34, []int{15, 15}},
		{"single byte chunks", 3, protocol.MinMTU, []int{1, 1, 1}},
		{"fits in one", 100, 1500, []int{100}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.size)
			for i := range data {
				data[i] = byte(i)
			}
			pdus, err := protocol.Segment(data, 5, protocol.TypeMsg, tc.mtu)
			if err != nil {
				t.Fatalf("Segment failed: %v", err)
			}
			if len(pdus) != len(tc.sizes) {
				t.Fatalf("chunk count %d, want %d", len(pdus), len(tc.sizes))
			}

			var joined []byte
			for k, pdu := range pdus {
				if len(pdu) > tc.mtu {
					t.Errorf("chunk %d is %d bytes, exceeds mtu %d", k, len(pdu), tc.mtu)
				}
				h, payload, err := protocol.ParsePDU(pdu)
				if err != nil {
					t.Fatalf("chunk %d: ParsePDU failed: %v", k, err)
				}
				if h.Seq != uint32(k) || h.Total != uint32(len(tc.sizes)) || h.MessageID != 5 || h.Type != protocol.TypeMsg {
					t.Errorf("chunk %d header mismatch: %+v", k, h)
				}
				if len(payload) != tc.sizes[k] {
					t.Errorf("chunk %d payload %d bytes, want %d", k, len(payload), tc.sizes[k])
				}
				joined = append(joined, payload...)
			}
			if !bytes.Equal(joined, data) {
				t.Error("concatenated chunks differ from input")
			}
		})
	}
}

// TestSegmentFailures verifies the atomic failure modes.
func TestSegmentFailures(t *testing.T) {
	if pdus, err := protocol.Segment(nil, 1, protocol.TypeMsg, 1500); !errors.Is(err, protocol.ErrEmptyMessage) || pdus != nil {
		t.Errorf("empty input: got (%d pdus, %v)", len(pdus), err)
	}
	if pdus, err := protocol.Segment([]byte("x"), 1, protocol.TypeMsg, protocol.Overhead); !errors.Is(err, protocol.ErrMTUTooSmall) || pdus != nil {
		t.Errorf("mtu 19: got (%d pdus, %v)", len(pdus), err)
	}
	if pdus, err := protocol.Segment([]byte("x"), 1, protocol.Type(0), 1500); !errors.Is(err, protocol.ErrUnknownType) || pdus != nil {
		t.Errorf("bad type: got (%d pdus, %v)", len(pdus), err)
	}
}

// TestChunkCapacityCapsAtPayloadField verifies that huge MTUs never produce
// chunks whose length cannot be represented in the 16-bit length field.
func TestChunkCapacityCapsAtPayloadField(t *testing.T) {
	if got := protocol.ChunkCapacity(1 << 20); got != protocol.MaxPayloadSize {
		t.Errorf("ChunkCapacity(1MiB) = %d, want %d", got, protocol.MaxPayloadSize)
	}
	if got := protocol.ChunkCapacity(34); got != 15 {
		t.Errorf("ChunkCapacity(34) = %d, want 15", got)
	}
}
