package transport

import (
	"math/rand/v2"
	"sync"
	"time"
)

// PipeOptions shapes the impairments of an in-memory pipe.
type PipeOptions struct {
	LossRate float64                 // Probability in [0, 1] that a frame is silently dropped
	Drop     func(frame []byte) bool // Drops the frame when it returns true; checked before LossRate
	MaxDelay time.Duration           // Each frame is delayed by a random duration in [0, MaxDelay)
	MTU      int                     // Frames longer than this are refused; 0 means unlimited
	Seed     uint64                  // Seed for the loss and delay generator
}

// Pipe is one end of an in-memory link. Frames sent on one end are delivered
// asynchronously to the other end's OnFrame handler, so with a delay they may
// arrive reordered.
type Pipe struct {
	lifecycle
	handler frameHandler

	opts PipeOptions
	peer *Pipe

	rngMu *sync.Mutex
	rng   *rand.Rand
}

// NewPipe creates a linked pair of pipe ends sharing the same impairments.
func NewPipe(opts PipeOptions) (*Pipe, *Pipe) {
	mu := &sync.Mutex{}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	a := &Pipe{lifecycle: newLifecycle(), opts: opts, rngMu: mu, rng: rng}
	b := &Pipe{lifecycle: newLifecycle(), opts: opts, rngMu: mu, rng: rng}
	a.peer = b
	b.peer = a
	return a, b
}

// Send schedules delivery of a copy of frame to the peer.
func (p *Pipe) Send(frame []byte) error {
	if p.isClosed() || p.peer.isClosed() {
		return ErrClosed
	}
	if p.opts.MTU > 0 && len(frame) > p.opts.MTU {
		return ErrFrameTooLarge
	}

	if p.opts.Drop != nil && p.opts.Drop(frame) {
		return nil
	}

	p.rngMu.Lock()
	lost := p.opts.LossRate > 0 && p.rng.Float64() < p.opts.LossRate
	var delay time.Duration
	if p.opts.MaxDelay > 0 {
		delay = time.Duration(p.rng.Int64N(int64(p.opts.MaxDelay)))
	}
	p.rngMu.Unlock()

	if lost {
		return nil
	}

	buf := append([]byte(nil), frame...)
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-p.done:
				return
			case <-p.peer.done:
				return
			}
		}
		if p.peer.isClosed() {
			return
		}
		p.peer.handler.deliver(buf)
	}()
	return nil
}

// OnFrame registers the callback for frames arriving from the peer.
func (p *Pipe) OnFrame(fn func([]byte)) {
	p.handler.set(fn)
}

// MTU returns the configured frame limit, or 0 when unlimited.
func (p *Pipe) MTU() int {
	return p.opts.MTU
}

// Close shuts down this end; the peer notices on its next Send.
func (p *Pipe) Close() error {
	p.shut()
	return nil
}
