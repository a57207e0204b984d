package adapter

import (
	"time"

	"github.com/1ureka/linkchat/internal/protocol"
	"github.com/1ureka/linkchat/internal/util"
)

// Extracted message IDs are remembered for a while so that late
// retransmissions (the peer missed our final ack) are re-acknowledged instead
// of starting a fresh reassembly.
const (
	maxTombstones = 1024
	tombstoneTTL  = time.Minute
)

// Event describes the outcome of feeding one frame to a Reassembler.
type Event struct {
	Accepted  bool // Chunk was new and stored
	Duplicate bool // Chunk had already been received
	Completed bool // All chunks of the message are now present

	Type      protocol.Type
	MessageID uint32
	Seq       uint32
	Total     uint32

	// Prefix is the highest sequence k such that chunks 0..k are all present,
	// or -1 when chunk 0 has not arrived yet.
	Prefix int

	// Ack is the cumulative acknowledgment to send back, or nil.
	Ack *protocol.Ack
}

type inbound struct {
	typ      protocol.Type
	total    uint32
	chunks   map[uint32][]byte
	prefix   int
	bytes    int
	lastSeen time.Duration
}

type tombstone struct {
	total uint32
	sums  []uint32 // CRC32 of each chunk payload, to tell a retransmission from a reused ID
	at    time.Duration
}

func (t tombstone) matches(h protocol.Header, payload []byte) bool {
	return t.total == h.Total && int(h.Seq) < len(t.sums) && t.sums[h.Seq] == protocol.Checksum(payload)
}

// Reassembler collects the chunks of inbound messages and tracks, per
// message, the contiguous prefix that has been received. It is not safe for
// concurrent use; the owner serializes calls.
type Reassembler struct {
	clock Clock
	msgs  map[uint32]*inbound

	done      map[uint32]tombstone
	doneOrder []uint32
}

// NewReassembler creates an empty reassembler. A nil clock selects
// MonotonicClock.
func NewReassembler(clock Clock) *Reassembler {
	if clock == nil {
		clock = MonotonicClock()
	}
	return &Reassembler{
		clock: clock,
		msgs:  make(map[uint32]*inbound),
		done:  make(map[uint32]tombstone),
	}
}

// Feed processes one data frame. Malformed frames, acks, and chunks whose
// shape disagrees with earlier chunks of the same message are rejected with
// Accepted == false and no state change.
func (r *Reassembler) Feed(buf []byte) Event {
	ev := Event{Prefix: -1}

	if len(buf) < protocol.Overhead {
		return ev
	}
	h, err := protocol.ParseHeader(buf)
	if err != nil {
		return ev
	}
	ev.Type, ev.MessageID, ev.Seq, ev.Total = h.Type, h.MessageID, h.Seq, h.Total

	if h.Type == protocol.TypeAck {
		return ev
	}

	_, payload, err := protocol.ParsePDU(buf)
	if err != nil {
		util.LogDebug("[%08x] dropping chunk %d: %v", h.MessageID, h.Seq, err)
		return ev
	}
	if h.Total == 0 || h.Seq >= h.Total || int(h.PayloadLen) != len(payload) {
		return ev
	}

	m, ok := r.msgs[h.MessageID]
	if !ok {
		if ts, extracted := r.done[h.MessageID]; extracted && ts.matches(h, payload) {
			// Late retransmission of a message already handed up; the peer
			// missed our final ack.
			ev.Duplicate = true
			ev.Prefix = int(ts.total) - 1
			ev.Ack = &protocol.Ack{MessageID: h.MessageID, Highest: ts.total - 1}
			return ev
		}
		m = &inbound{
			typ:    h.Type,
			total:  h.Total,
			chunks: make(map[uint32][]byte),
			prefix: -1,
		}
		r.msgs[h.MessageID] = m
	} else if m.typ != h.Type || m.total != h.Total {
		util.LogDebug("[%08x] chunk shape %s/%d conflicts with %s/%d, ignoring",
			h.MessageID, h.Type, h.Total, m.typ, m.total)
		return ev
	}

	if _, dup := m.chunks[h.Seq]; dup {
		// A retransmitting peer is still alive.
		m.lastSeen = r.clock()
		ev.Duplicate = true
		ev.Prefix = m.prefix
		if m.prefix >= 0 {
			ev.Ack = &protocol.Ack{MessageID: h.MessageID, Highest: uint32(m.prefix)}
		}
		return ev
	}

	m.chunks[h.Seq] = payload
	m.bytes += len(payload)
	m.lastSeen = r.clock()

	before := m.prefix
	for m.prefix+1 < int(m.total) {
		if _, ok := m.chunks[uint32(m.prefix+1)]; !ok {
			break
		}
		m.prefix++
	}
	if m.prefix != before {
		ev.Ack = &protocol.Ack{MessageID: h.MessageID, Highest: uint32(m.prefix)}
	}

	ev.Prefix = m.prefix
	ev.Accepted = true
	ev.Completed = m.prefix+1 == int(m.total)
	return ev
}

// IsComplete reports whether every chunk of id has arrived.
func (r *Reassembler) IsComplete(id uint32) bool {
	m, ok := r.msgs[id]
	return ok && m.prefix+1 == int(m.total)
}

// Extract concatenates the chunks of a complete message in sequence order
// and forgets the message. It returns false if the message is unknown or
// incomplete.
func (r *Reassembler) Extract(id uint32) ([]byte, protocol.Type, bool) {
	if !r.IsComplete(id) {
		return nil, 0, false
	}
	m := r.msgs[id]

	out := make([]byte, 0, m.bytes)
	sums := make([]uint32, m.total)
	for seq := uint32(0); seq < m.total; seq++ {
		out = append(out, m.chunks[seq]...)
		sums[seq] = protocol.Checksum(m.chunks[seq])
	}

	delete(r.msgs, id)
	r.remember(id, tombstone{total: m.total, sums: sums, at: r.clock()})
	return out, m.typ, true
}

// remember records a tombstone for id. doneOrder stays sorted by age, so a
// reused id moves to the tail.
func (r *Reassembler) remember(id uint32, ts tombstone) {
	if _, ok := r.done[id]; ok {
		for i, old := range r.doneOrder {
			if old == id {
				r.doneOrder = append(r.doneOrder[:i], r.doneOrder[i+1:]...)
				break
			}
		}
	}
	r.doneOrder = append(r.doneOrder, id)
	r.done[id] = ts

	for len(r.doneOrder) > maxTombstones {
		delete(r.done, r.doneOrder[0])
		r.doneOrder = r.doneOrder[1:]
	}
}

// Sweep forgets tombstones older than tombstoneTTL and, when idle is
// positive, discards partial messages that have not received a new chunk for
// idle. It returns the discarded partial message IDs.
func (r *Reassembler) Sweep(idle time.Duration) []uint32 {
	now := r.clock()

	for len(r.doneOrder) > 0 {
		id := r.doneOrder[0]
		if now-r.done[id].at < tombstoneTTL {
			break
		}
		delete(r.done, id)
		r.doneOrder = r.doneOrder[1:]
	}

	if idle <= 0 {
		return nil
	}

	var expired []uint32
	for id, m := range r.msgs {
		if now-m.lastSeen >= idle {
			expired = append(expired, id)
			delete(r.msgs, id)
		}
	}
	return expired
}

// Pending returns the number of messages currently being reassembled.
func (r *Reassembler) Pending() int {
	return len(r.msgs)
}

// Clear forgets all inbound state.
func (r *Reassembler) Clear() {
	r.msgs = make(map[uint32]*inbound)
	r.done = make(map[uint32]tombstone)
	r.doneOrder = nil
}
