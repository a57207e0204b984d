// Package transport provides the frame links an adapter.Endpoint runs over:
// a WebRTC DataChannel, a WebSocket connection, raw Ethernet, KISS framing on
// a serial TNC, and an in-memory pipe. Every link is best effort; frames may
// be dropped but are never split or merged.
package transport

import (
	"errors"
	"sync"
)

var (
	ErrClosed        = errors.New("transport: link closed")
	ErrFrameTooLarge = errors.New("transport: frame exceeds link mtu")
)

// frameHandler holds the callback registered through OnFrame. Frames that
// arrive before a callback is registered are dropped.
type frameHandler struct {
	mu sync.RWMutex
	fn func([]byte)
}

func (h *frameHandler) set(fn func([]byte)) {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
}

func (h *frameHandler) deliver(frame []byte) {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()

	if fn != nil {
		fn(frame)
	}
}

// lifecycle is a close-once done channel shared by the link implementations.
type lifecycle struct {
	done chan struct{}
	once sync.Once
}

func newLifecycle() lifecycle {
	return lifecycle{done: make(chan struct{})}
}

// Done returns a channel that is closed when the link shuts down.
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

// shut closes the done channel and reports whether this call did so.
func (l *lifecycle) shut() bool {
	first := false
	l.once.Do(func() {
		close(l.done)
		first = true
	})
	return first
}

func (l *lifecycle) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
