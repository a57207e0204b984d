package adapter

import (
	"fmt"
	"time"

	"github.com/1ureka/linkchat/internal/protocol"
)

// outbound is the Go-Back-N state of one message being transmitted.
// Chunks [base, next) are in flight; chunks below base are acknowledged.
type outbound struct {
	typ      protocol.Type
	pdus     [][]byte
	base     int
	next     int
	sentAt   []time.Duration
	progress time.Duration // last time base moved (or the message was queued)
	done     bool
}

// Sender runs a fixed-window, cumulative-ack transmitter per message. It
// never touches the link itself: every operation returns the frames to put on
// the wire, in order. Not safe for concurrent use.
type Sender struct {
	cfg  Config
	ids  *SeqGen
	msgs map[uint32]*outbound
}

// NewSender creates a sender; degenerate config values are clamped.
func NewSender(cfg Config) *Sender {
	return &Sender{
		cfg:  cfg.normalized(),
		ids:  NewSeqGen(),
		msgs: make(map[uint32]*outbound),
	}
}

// Send segments data into a new message and returns its ID together with the
// initial burst of min(window, chunks) frames. On failure the ID is 0.
// Acks are generated internally and are rejected as a message type.
func (s *Sender) Send(data []byte, typ protocol.Type) (uint32, [][]byte, error) {
	if len(data) == 0 {
		return 0, nil, protocol.ErrEmptyMessage
	}
	if !typ.Valid() || typ == protocol.TypeAck {
		return 0, nil, fmt.Errorf("%w: cannot send %s as a message", protocol.ErrUnknownType, typ)
	}

	id := s.ids.Next()
	pdus, err := protocol.Segment(data, id, typ, s.cfg.MTU)
	if err != nil {
		return 0, nil, err
	}

	now := s.cfg.Clock()
	m := &outbound{
		typ:      typ,
		pdus:     pdus,
		sentAt:   make([]time.Duration, len(pdus)),
		progress: now,
	}
	s.msgs[id] = m

	return id, s.fill(m, now), nil
}

// fill transmits every unsent chunk that fits in the window.
func (s *Sender) fill(m *outbound, now time.Duration) [][]byte {
	limit := min(len(m.pdus), m.base+s.cfg.Window)
	var out [][]byte
	for ; m.next < limit; m.next++ {
		out = append(out, m.pdus[m.next])
		m.sentAt[m.next] = now
	}
	return out
}

// OnAck applies a cumulative acknowledgment and returns the chunks that the
// advanced window now allows. Stale and unknown acks are ignored; base never
// moves backwards.
func (s *Sender) OnAck(a protocol.Ack) [][]byte {
	m, ok := s.msgs[a.MessageID]
	if !ok || m.done || len(m.pdus) == 0 {
		return nil
	}

	index := min(int64(a.Highest), int64(len(m.pdus)-1))
	if int(index)+1 <= m.base {
		return nil
	}

	now := s.cfg.Clock()
	m.base = int(index) + 1
	m.progress = now
	if m.next < m.base {
		// The peer acknowledged chunks we never sent; nothing below base is
		// ever transmitted again.
		m.next = m.base
	}

	if m.base >= len(m.pdus) {
		m.done = true
		delete(s.msgs, a.MessageID)
		return nil
	}

	return s.fill(m, now)
}

// Tick retransmits, for every message whose oldest unacknowledged chunk has
// been outstanding for at least RTO, the whole in-flight range [base, next).
func (s *Sender) Tick() [][]byte {
	now := s.cfg.Clock()

	var out [][]byte
	for id, m := range s.msgs {
		if m.done {
			delete(s.msgs, id)
			continue
		}
		if m.base >= m.next {
			continue
		}
		if now-m.sentAt[m.base] < s.cfg.RTO {
			continue
		}
		for j := m.base; j < m.next; j++ {
			out = append(out, m.pdus[j])
			m.sentAt[j] = now
		}
	}
	return out
}

// IsDone reports whether id has no remaining state: fully acknowledged,
// abandoned, expired, or never sent.
func (s *Sender) IsDone(id uint32) bool {
	_, ok := s.msgs[id]
	return !ok
}

// InFlight returns the number of sent but unacknowledged chunks of id.
func (s *Sender) InFlight(id uint32) int {
	m, ok := s.msgs[id]
	if !ok || m.next < m.base {
		return 0
	}
	return m.next - m.base
}

// Abandon drops the state of id without waiting for acknowledgment.
func (s *Sender) Abandon(id uint32) bool {
	if _, ok := s.msgs[id]; !ok {
		return false
	}
	delete(s.msgs, id)
	return true
}

// Sweep abandons every message whose window has not advanced for idle and
// returns their IDs. A non-positive idle disables the sweep.
func (s *Sender) Sweep(idle time.Duration) []uint32 {
	if idle <= 0 {
		return nil
	}
	now := s.cfg.Clock()

	var expired []uint32
	for id, m := range s.msgs {
		if now-m.progress >= idle {
			expired = append(expired, id)
			delete(s.msgs, id)
		}
	}
	return expired
}

// Active returns the number of messages still awaiting acknowledgment.
func (s *Sender) Active() int {
	return len(s.msgs)
}
