// Package adapter runs reliable, message-oriented delivery over an unreliable
// frame link. Outbound messages are segmented and sent with a Go-Back-N
// window; inbound chunks are reassembled and acknowledged cumulatively.
package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/linkchat/internal/protocol"
	"github.com/1ureka/linkchat/internal/util"
)

var (
	ErrClosed  = errors.New("adapter: endpoint closed")
	ErrExpired = errors.New("adapter: message expired without acknowledgment")
)

// Link is a best-effort frame carrier. Frames may be lost, duplicated, or
// reordered but are delivered whole; corruption is caught by the PDU trailer.
type Link interface {
	Send(frame []byte) error
	OnFrame(fn func(frame []byte))
	Done() <-chan struct{}
	Close() error
}

// A Link that also implements MTUer caps the configured MTU.
type MTUer interface {
	MTU() int
}

// Message is a fully reassembled inbound message.
type Message struct {
	ID   uint32
	Type protocol.Type
	Data []byte
}

// pending tracks an outbound message until it is acknowledged or given up on.
type pending struct {
	done chan struct{}
	err  error
}

func (p *pending) finish(err error) {
	p.err = err
	close(p.done)
}

// Endpoint couples one Sender and one Reassembler to a Link. All engine state
// is guarded by a single mutex; frames are handed to the link only after the
// mutex is released.
type Endpoint struct {
	link Link
	cfg  Config

	mu        sync.Mutex
	snd       *Sender
	rcv       *Reassembler
	pending   map[uint32]*pending
	onMessage func(Message)
	closed    bool
}

// NewEndpoint wires an endpoint to link and starts consuming its frames.
func NewEndpoint(link Link, cfg Config) *Endpoint {
	if m, ok := link.(MTUer); ok {
		if limit := m.MTU(); limit > 0 && (cfg.MTU <= 0 || limit < cfg.MTU) {
			cfg.MTU = limit
		}
	}
	cfg = cfg.normalized()

	e := &Endpoint{
		link:    link,
		cfg:     cfg,
		snd:     NewSender(cfg),
		rcv:     NewReassembler(cfg.Clock),
		pending: make(map[uint32]*pending),
	}
	link.OnFrame(e.HandleFrame)
	return e
}

// Config returns the effective parameters after clamping.
func (e *Endpoint) Config() Config {
	return e.cfg
}

// OnMessage registers the handler for completed inbound messages. It is
// invoked from the link's receive goroutine, outside the endpoint lock.
func (e *Endpoint) OnMessage(fn func(Message)) {
	e.mu.Lock()
	e.onMessage = fn
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send queues data as a new message and transmits the first window of
// chunks. It returns the message ID without waiting for acknowledgment.
func (e *Endpoint) Send(data []byte, typ protocol.Type) (uint32, error) {
	id, _, err := e.send(data, typ)
	return id, err
}

// SendWait sends data and blocks until the peer acknowledges every chunk,
// the idle sweep gives up on it, the endpoint closes, or ctx is done. When
// ctx ends first the message is abandoned and no longer retransmitted.
func (e *Endpoint) SendWait(ctx context.Context, data []byte, typ protocol.Type) (uint32, error) {
	id, p, err := e.send(data, typ)
	if err != nil {
		return 0, err
	}

	select {
	case <-p.done:
		return id, p.err
	case <-ctx.Done():
	}

	e.mu.Lock()
	if e.pending[id] == p {
		delete(e.pending, id)
		e.snd.Abandon(id)
	}
	e.mu.Unlock()

	// The ack may have raced with ctx.
	select {
	case <-p.done:
		return id, p.err
	default:
		util.LogDebug("[%08x] abandoned: %v", id, ctx.Err())
		return id, ctx.Err()
	}
}

func (e *Endpoint) send(data []byte, typ protocol.Type) (uint32, *pending, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, nil, ErrClosed
	}
	id, frames, err := e.snd.Send(data, typ)
	if err != nil {
		e.mu.Unlock()
		return 0, nil, err
	}
	p := &pending{done: make(chan struct{})}
	e.pending[id] = p
	e.mu.Unlock()

	util.LogDebug("[%08x] sending %s message, %d bytes", id, typ, len(data))
	e.transmit(frames)
	return id, p, nil
}

// transmit hands frames to the link in order. Link errors are logged and the
// frame is treated as lost; the retransmission timer recovers from it.
func (e *Endpoint) transmit(frames [][]byte) {
	for _, f := range frames {
		if f == nil {
			continue
		}
		if err := e.link.Send(f); err != nil {
			util.LogDebug("link send failed: %v", err)
			continue
		}
		util.Stats.AddSent(len(f))
	}
}

// IsDone reports whether the outbound message id needs no further work.
func (e *Endpoint) IsDone(id uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snd.IsDone(id)
}

// InFlight returns the number of unacknowledged chunks of id on the wire.
func (e *Endpoint) InFlight(id uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snd.InFlight(id)
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// HandleFrame processes one frame read from the link. Frames longer than the
// PDU they carry (link-layer padding) are trimmed first.
func (e *Endpoint) HandleFrame(frame []byte) {
	util.Stats.AddRecv(len(frame))

	h, err := protocol.ParseHeader(frame)
	if err != nil {
		util.Stats.AddRejected()
		util.LogDebug("dropping frame: %v", err)
		return
	}
	if n := protocol.FrameLen(h); len(frame) > n {
		frame = frame[:n]
	}

	if h.Type == protocol.TypeAck {
		e.handleAck(frame)
		return
	}

	e.mu.Lock()
	ev := e.rcv.Feed(frame)
	var msg *Message
	if ev.Completed {
		if data, typ, ok := e.rcv.Extract(ev.MessageID); ok {
			msg = &Message{ID: ev.MessageID, Type: typ, Data: data}
		}
	}
	handler := e.onMessage
	e.mu.Unlock()

	if !ev.Accepted && !ev.Duplicate {
		util.Stats.AddRejected()
	}
	if ev.Ack != nil {
		e.transmit([][]byte{protocol.BuildAck(*ev.Ack)})
	}
	if msg == nil {
		return
	}

	util.Stats.AddMsgRecv()
	util.LogDebug("[%08x] received %s message, %d bytes", msg.ID, msg.Type, len(msg.Data))
	if handler != nil {
		handler(*msg)
	}
}

func (e *Endpoint) handleAck(frame []byte) {
	a, ok := protocol.ParseAck(frame)
	if !ok {
		util.Stats.AddRejected()
		return
	}

	e.mu.Lock()
	frames := e.snd.OnAck(a)
	p, waiting := e.pending[a.MessageID]
	finished := waiting && e.snd.IsDone(a.MessageID)
	if finished {
		delete(e.pending, a.MessageID)
	}
	e.mu.Unlock()

	e.transmit(frames)
	if finished {
		util.Stats.AddMsgSent()
		util.LogDebug("[%08x] acknowledged", a.MessageID)
		p.finish(nil)
	}
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

// Tick drives retransmission and, when IdleTimeout is set, expiry of stalled
// messages in both directions.
func (e *Endpoint) Tick() {
	e.mu.Lock()
	frames := e.snd.Tick()
	expiredOut := e.snd.Sweep(e.cfg.IdleTimeout)
	expiredIn := e.rcv.Sweep(e.cfg.IdleTimeout)
	var gave []*pending
	for _, id := range expiredOut {
		if p, ok := e.pending[id]; ok {
			gave = append(gave, p)
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	if len(frames) > 0 {
		util.Stats.AddRetransmits(len(frames))
		util.LogDebug("retransmitting %d frames", len(frames))
		e.transmit(frames)
	}

	for _, id := range expiredOut {
		util.LogWarning("[%08x] no acknowledgment progress for %s, giving up", id, e.cfg.IdleTimeout)
	}
	for _, id := range expiredIn {
		util.LogWarning("[%08x] incomplete message idle for %s, discarding", id, e.cfg.IdleTimeout)
	}
	util.Stats.AddExpired(len(expiredOut) + len(expiredIn))

	for _, p := range gave {
		p.finish(ErrExpired)
	}
}

// Run calls Tick every TickInterval until ctx is cancelled or the link shuts
// down, then releases every SendWait caller with ErrClosed.
func (e *Endpoint) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer e.shutdown()

	for {
		select {
		case <-ticker.C:
			e.Tick()
		case <-e.link.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	waiters := e.pending
	e.pending = make(map[uint32]*pending)
	e.mu.Unlock()

	for _, p := range waiters {
		p.finish(ErrClosed)
	}
}

// Close stops accepting new messages and closes the link.
func (e *Endpoint) Close() error {
	e.shutdown()
	return e.link.Close()
}
