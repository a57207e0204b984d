package chat

import (
	"sync"

	"github.com/1ureka/linkchat/internal/adapter"
	"github.com/1ureka/linkchat/internal/protocol"
	"github.com/1ureka/linkchat/internal/util"
)

// InboxBufferSize is the capacity of each per-type message channel.
const InboxBufferSize = 64

// route is the inbox of one message type. Reliable routes queue without
// bound behind the channel; lossy routes drop when the channel is full.
type route struct {
	out   chan adapter.Message
	lossy bool

	mu    sync.Mutex
	queue []adapter.Message
	wake  chan struct{}
	done  chan struct{}
}

func newRoute(lossy bool) *route {
	r := &route{
		out:   make(chan adapter.Message, InboxBufferSize),
		lossy: lossy,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if !lossy {
		go r.pump()
	}
	return r
}

func (r *route) push(msg adapter.Message) bool {
	if r.lossy {
		select {
		case r.out <- msg:
			return true
		default:
			return false
		}
	}

	r.mu.Lock()
	r.queue = append(r.queue, msg)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// pump moves queued messages into out in arrival order until the route is
// closed.
func (r *route) pump() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			select {
			case <-r.wake:
				continue
			case <-r.done:
				return
			}
		}
		msg := r.queue[0]
		r.queue[0] = adapter.Message{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		select {
		case r.out <- msg:
		case <-r.done:
			return
		}
	}
}

// Dispatcher maintains the message type → inbox-channel route table.
// The endpoint's OnMessage callback uses it to hand completed messages to the
// goroutine that consumes that type.
//
// Messages reach the dispatcher after the endpoint acknowledged them, so the
// peer already counts them as delivered. Routes made with Register therefore
// never drop; RegisterLossy is for announcements that are repeated anyway.
type Dispatcher struct {
	mu         sync.Mutex
	routeTable map[protocol.Type]*route
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		routeTable: make(map[protocol.Type]*route),
	}
}

// Register creates an inbox for the given type that queues every message
// until it is consumed. Returns the receive end.
func (d *Dispatcher) Register(typ protocol.Type) <-chan adapter.Message {
	return d.register(typ, false)
}

// RegisterLossy creates a bounded inbox for the given type. Dispatch drops
// messages of this type while the inbox is full.
func (d *Dispatcher) RegisterLossy(typ protocol.Type) <-chan adapter.Message {
	return d.register(typ, true)
}

func (d *Dispatcher) register(typ protocol.Type, lossy bool) <-chan adapter.Message {
	r := newRoute(lossy)

	d.mu.Lock()
	old := d.routeTable[typ]
	d.routeTable[typ] = r
	d.mu.Unlock()

	if old != nil {
		close(old.done)
	}
	return r.out
}

// Unregister removes the type from the route table and stops its queue.
// The channel is NOT closed; the consumer goroutine exits via ctx.Done().
func (d *Dispatcher) Unregister(typ protocol.Type) {
	d.mu.Lock()
	r, ok := d.routeTable[typ]
	delete(d.routeTable, typ)
	d.mu.Unlock()

	if ok {
		close(r.done)
	}
}

// Close unregisters every type.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	routes := d.routeTable
	d.routeTable = make(map[protocol.Type]*route)
	d.mu.Unlock()

	for _, r := range routes {
		close(r.done)
	}
}

// Dispatch routes msg to the inbox registered for its type. It never blocks.
// It returns false when no route exists or a lossy inbox is full.
func (d *Dispatcher) Dispatch(msg adapter.Message) bool {
	d.mu.Lock()
	r, ok := d.routeTable[msg.Type]
	d.mu.Unlock()

	if !ok {
		util.LogDebug("[%08x] no route for %s message, dropping", msg.ID, msg.Type)
		return false
	}

	if !r.push(msg) {
		util.LogWarning("[%08x] %s inbox full, dropping message", msg.ID, msg.Type)
		return false
	}
	return true
}
