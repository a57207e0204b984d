package adapter_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/linkchat/internal/adapter"
	"github.com/1ureka/linkchat/internal/protocol"
)

// fakeClock is a manually advanced adapter.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// pattern returns n bytes 0, 1, 2, … (mod 256).
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// segment splits data or fails the test.
func segment(t *testing.T, data []byte, id uint32, typ protocol.Type, mtu int) [][]byte {
	t.Helper()
	pdus, err := protocol.Segment(data, id, typ, mtu)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	return pdus
}

func wantAck(t *testing.T, ev adapter.Event, id, highest uint32) {
	t.Helper()
	if ev.Ack == nil {
		t.Fatalf("expected ack {%d, %d}, got none", id, highest)
	}
	if ev.Ack.MessageID != id || ev.Ack.Highest != highest {
		t.Fatalf("ack mismatch: got {%d, %d}, want {%d, %d}", ev.Ack.MessageID, ev.Ack.Highest, id, highest)
	}
}

func wantNoAck(t *testing.T, ev adapter.Event) {
	t.Helper()
	if ev.Ack != nil {
		t.Fatalf("expected no ack, got {%d, %d}", ev.Ack.MessageID, ev.Ack.Highest)
	}
}

// TestReassemblerInOrder feeds three chunks in order and checks the ack after
// each one and the extracted message.
func TestReassemblerInOrder(t *testing.T) {
	data := pattern(40)
	pdus := segment(t, data, 7, protocol.TypeMsg, 34)
	if len(pdus) != 3 {
		t.Fatalf("chunk count mismatch: got %d, want 3", len(pdus))
	}

	r := adapter.NewReassembler(nil)
	for i, pdu := range pdus {
		ev := r.Feed(pdu)
		if !ev.Accepted {
			t.Fatalf("chunk %d not accepted", i)
		}
		wantAck(t, ev, 7, uint32(i))
		if got, want := ev.Completed, i == len(pdus)-1; got != want {
			t.Fatalf("chunk %d: completed = %v, want %v", i, got, want)
		}
	}

	if !r.IsComplete(7) {
		t.Fatal("message should be complete")
	}
	out, typ, ok := r.Extract(7)
	if !ok {
		t.Fatal("Extract failed on complete message")
	}
	if typ != protocol.TypeMsg {
		t.Errorf("type mismatch: got %s, want %s", typ, protocol.TypeMsg)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("payload mismatch:\n got %v\nwant %v", out, data)
	}
	if r.Pending() != 0 {
		t.Errorf("pending mismatch: got %d, want 0", r.Pending())
	}
	if _, _, ok := r.Extract(7); ok {
		t.Error("second Extract should fail")
	}
}

// TestReassemblerPermutations feeds every ordering of three chunks. The
// message completes exactly once, on the last chunk, and acks only report
// prefix advances.
func TestReassemblerPermutations(t *testing.T) {
	data := pattern(40)
	pdus := segment(t, data, 9, protocol.TypeFile, 34)

	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2},
		{1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		r := adapter.NewReassembler(nil)
		prefix := -1
		received := map[int]bool{}
		completions := 0

		for step, idx := range order {
			ev := r.Feed(pdus[idx])
			if !ev.Accepted {
				t.Fatalf("order %v: chunk %d not accepted", order, idx)
			}
			received[idx] = true

			next := prefix
			for received[next+1] {
				next++
			}
			if next != prefix {
				wantAck(t, ev, 9, uint32(next))
			} else {
				wantNoAck(t, ev)
			}
			prefix = next

			if ev.Prefix != prefix {
				t.Fatalf("order %v step %d: prefix mismatch: got %d, want %d", order, step, ev.Prefix, prefix)
			}
			if ev.Completed {
				completions++
				if step != len(order)-1 {
					t.Fatalf("order %v: completed early at step %d", order, step)
				}
			}
		}

		if completions != 1 {
			t.Fatalf("order %v: completions mismatch: got %d, want 1", order, completions)
		}
		out, _, ok := r.Extract(9)
		if !ok || !bytes.Equal(out, data) {
			t.Fatalf("order %v: extracted payload mismatch", order)
		}
	}
}

// TestReassemblerDuplicates checks that a repeated chunk is not stored again
// and is re-acknowledged only once a prefix exists.
func TestReassemblerDuplicates(t *testing.T) {
	pdus := segment(t, pattern(40), 3, protocol.TypeMsg, 34)

	t.Run("without prefix", func(t *testing.T) {
		r := adapter.NewReassembler(nil)
		r.Feed(pdus[1])
		ev := r.Feed(pdus[1])
		if ev.Accepted || !ev.Duplicate {
			t.Fatalf("expected duplicate, got accepted=%v duplicate=%v", ev.Accepted, ev.Duplicate)
		}
		wantNoAck(t, ev)
	})

	t.Run("with prefix", func(t *testing.T) {
		r := adapter.NewReassembler(nil)
		r.Feed(pdus[0])
		r.Feed(pdus[2])
		ev := r.Feed(pdus[2])
		if !ev.Duplicate {
			t.Fatal("expected duplicate")
		}
		wantAck(t, ev, 3, 0)
		if ev.Completed {
			t.Fatal("duplicate must not complete the message")
		}
	})

	t.Run("completes once", func(t *testing.T) {
		r := adapter.NewReassembler(nil)
		completions := 0
		for _, idx := range []int{0, 1, 1, 2, 2, 0} {
			if r.Feed(pdus[idx]).Completed {
				completions++
			}
		}
		if completions != 1 {
			t.Fatalf("completions mismatch: got %d, want 1", completions)
		}
	})
}

// TestReassemblerRejects feeds frames that must leave no state behind.
func TestReassemblerRejects(t *testing.T) {
	good := segment(t, pattern(10), 5, protocol.TypeMsg, 64)[0]

	corrupt := append([]byte(nil), good...)
	corrupt[protocol.HeaderSize] ^= 0x01

	truncated := good[:protocol.Overhead-1]

	badSeq := mustPDU(t, protocol.Header{Type: protocol.TypeMsg, MessageID: 5, Seq: 2, Total: 2, PayloadLen: 1}, []byte{1})
	zeroTotal := mustPDU(t, protocol.Header{Type: protocol.TypeMsg, MessageID: 5, Seq: 0, Total: 0, PayloadLen: 1}, []byte{1})

	tests := []struct {
		name  string
		frame []byte
	}{
		{"ack frame", protocol.BuildAck(protocol.Ack{MessageID: 5, Highest: 0})},
		{"corrupt payload", corrupt},
		{"truncated", truncated},
		{"seq beyond total", badSeq},
		{"zero total", zeroTotal},
		{"empty", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := adapter.NewReassembler(nil)
			ev := r.Feed(tc.frame)
			if ev.Accepted || ev.Duplicate || ev.Completed {
				t.Fatalf("frame should be rejected, got %+v", ev)
			}
			wantNoAck(t, ev)
			if r.Pending() != 0 {
				t.Fatalf("pending mismatch: got %d, want 0", r.Pending())
			}
		})
	}
}

// TestReassemblerShapeConflict checks that a chunk disagreeing with the first
// chunk's type or total is ignored.
func TestReassemblerShapeConflict(t *testing.T) {
	r := adapter.NewReassembler(nil)
	first := segment(t, pattern(40), 11, protocol.TypeMsg, 34)
	r.Feed(first[0])

	otherTotal := segment(t, pattern(60), 11, protocol.TypeMsg, 34)[1]
	if ev := r.Feed(otherTotal); ev.Accepted {
		t.Fatal("chunk with different total should be rejected")
	}

	otherType := segment(t, pattern(40), 11, protocol.TypeFile, 34)[1]
	if ev := r.Feed(otherType); ev.Accepted {
		t.Fatal("chunk with different type should be rejected")
	}

	if ev := r.Feed(first[1]); !ev.Accepted {
		t.Fatal("matching chunk should still be accepted")
	}
}

// TestReassemblerLateRetransmission checks that chunks of an already
// extracted message are re-acknowledged with the final ack instead of
// starting a new message.
func TestReassemblerLateRetransmission(t *testing.T) {
	clk := &fakeClock{}
	r := adapter.NewReassembler(clk.Now)
	pdus := segment(t, pattern(40), 21, protocol.TypeMsg, 34)
	for _, pdu := range pdus {
		r.Feed(pdu)
	}
	if _, _, ok := r.Extract(21); !ok {
		t.Fatal("Extract failed")
	}

	ev := r.Feed(pdus[1])
	if !ev.Duplicate || ev.Accepted {
		t.Fatalf("expected duplicate, got accepted=%v duplicate=%v", ev.Accepted, ev.Duplicate)
	}
	wantAck(t, ev, 21, 2)
	if r.Pending() != 0 {
		t.Fatalf("pending mismatch: got %d, want 0", r.Pending())
	}

	// A different message reusing the ID is not mistaken for a retransmission.
	other := segment(t, bytes.Repeat([]byte{0xAA}, 40), 21, protocol.TypeMsg, 34)
	if ev := r.Feed(other[0]); !ev.Accepted {
		t.Fatal("new content under a reused ID should be accepted")
	}

	// Once the tombstone expires, the old chunks start a fresh message.
	r.Clear()
	for _, pdu := range pdus {
		r.Feed(pdu)
	}
	r.Extract(21)
	clk.Advance(2 * time.Minute)
	r.Sweep(0)
	if ev := r.Feed(pdus[0]); !ev.Accepted {
		t.Fatal("chunk should be accepted after the tombstone expired")
	}
}

// TestReassemblerSweep checks idle expiry of partial messages.
func TestReassemblerSweep(t *testing.T) {
	clk := &fakeClock{}
	r := adapter.NewReassembler(clk.Now)

	a := segment(t, pattern(40), 1, protocol.TypeMsg, 34)
	b := segment(t, pattern(40), 2, protocol.TypeMsg, 34)
	r.Feed(a[0])
	clk.Advance(3 * time.Second)
	r.Feed(b[0])
	clk.Advance(2 * time.Second)

	if got := r.Sweep(0); len(got) != 0 {
		t.Fatalf("idle 0 must not expire messages, got %v", got)
	}

	expired := r.Sweep(5 * time.Second)
	if len(expired) != 1 || expired[0] != 1 {
		t.Fatalf("expired mismatch: got %v, want [1]", expired)
	}
	if r.Pending() != 1 {
		t.Fatalf("pending mismatch: got %d, want 1", r.Pending())
	}

	// A duplicate still counts as activity from the peer.
	if ev := r.Feed(b[0]); !ev.Duplicate {
		t.Fatal("expected duplicate")
	}
	clk.Advance(3 * time.Second)
	if expired := r.Sweep(5 * time.Second); len(expired) != 0 {
		t.Fatalf("message refreshed by a duplicate expired: %v", expired)
	}
	clk.Advance(2 * time.Second)
	if expired := r.Sweep(5 * time.Second); len(expired) != 1 || expired[0] != 2 {
		t.Fatalf("expired mismatch: got %v, want [2]", expired)
	}
}

// TestReassemblerDuplicateKeepsAlive covers a slow peer that keeps
// retransmitting chunk 0 while later chunks are lost.
func TestReassemblerDuplicateKeepsAlive(t *testing.T) {
	clk := &fakeClock{}
	r := adapter.NewReassembler(clk.Now)
	pdus := segment(t, pattern(40), 5, protocol.TypeMsg, 34)

	r.Feed(pdus[0])
	clk.Advance(90 * time.Second)
	if ev := r.Feed(pdus[0]); !ev.Duplicate {
		t.Fatal("expected duplicate")
	}
	clk.Advance(20 * time.Second)

	if expired := r.Sweep(90 * time.Second); len(expired) != 0 {
		t.Fatalf("expired 20s after the last frame: %v", expired)
	}
	if r.Pending() != 1 {
		t.Fatalf("pending mismatch: got %d, want 1", r.Pending())
	}
}

// TestReassemblerTombstoneReuse checks that a tombstone refreshed by a reused
// ID does not keep older tombstones alive past their TTL.
func TestReassemblerTombstoneReuse(t *testing.T) {
	clk := &fakeClock{}
	r := adapter.NewReassembler(clk.Now)

	complete := func(pdu []byte, id uint32) {
		t.Helper()
		if ev := r.Feed(pdu); !ev.Completed {
			t.Fatalf("message %d did not complete", id)
		}
		if _, _, ok := r.Extract(id); !ok {
			t.Fatalf("Extract(%d) failed", id)
		}
	}

	first := segment(t, []byte("first"), 5, protocol.TypeMsg, 64)[0]
	other := segment(t, []byte("other"), 6, protocol.TypeMsg, 64)[0]
	reused := segment(t, []byte("reused"), 5, protocol.TypeMsg, 64)[0]

	complete(first, 5)
	clk.Advance(10 * time.Second)
	complete(other, 6)
	clk.Advance(20 * time.Second)
	complete(reused, 5)

	// Message 6 is 65s old, message 5 only 45s.
	clk.Advance(45 * time.Second)
	r.Sweep(0)

	if ev := r.Feed(other); !ev.Accepted || ev.Duplicate {
		t.Fatalf("expired tombstone still matched: accepted=%v duplicate=%v", ev.Accepted, ev.Duplicate)
	}
	if ev := r.Feed(reused); !ev.Duplicate {
		t.Fatal("live tombstone should still re-acknowledge")
	}
}

func mustPDU(t *testing.T, h protocol.Header, payload []byte) []byte {
	t.Helper()
	pdu, err := protocol.EncodePDU(h, payload)
	if err != nil {
		t.Fatalf("EncodePDU failed: %v", err)
	}
	return pdu
}
