package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/linkchat/internal/util"
)

// WebSocketMTU bounds a frame carried in one binary WebSocket message.
const WebSocketMTU = 64 * 1024

const wsWriteTimeout = 5 * time.Second

// WebSocketLink carries one frame per binary WebSocket message. The
// underlying TCP stream never loses frames, but the adapter still treats the
// link as best effort.
type WebSocketLink struct {
	lifecycle
	handler frameHandler

	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocketLink takes ownership of conn and starts reading from it.
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	l := &WebSocketLink{
		lifecycle: newLifecycle(),
		conn:      conn,
	}
	conn.SetReadLimit(WebSocketMTU)
	go l.readLoop()
	return l
}

func (l *WebSocketLink) readLoop() {
	defer l.Close()

	for {
		typ, data, err := l.conn.ReadMessage()
		if err != nil {
			if !l.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("WebSocket read failed: %v", err)
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		l.handler.deliver(data)
	}
}

// Send writes frame as one binary message.
func (l *WebSocketLink) Send(frame []byte) error {
	if l.isClosed() {
		return ErrClosed
	}
	if len(frame) > WebSocketMTU {
		return ErrFrameTooLarge
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// OnFrame registers the callback for inbound binary messages.
func (l *WebSocketLink) OnFrame(fn func([]byte)) {
	l.handler.set(fn)
}

// MTU reports WebSocketMTU.
func (l *WebSocketLink) MTU() int {
	return WebSocketMTU
}

// Close sends a close message and shuts the connection down.
func (l *WebSocketLink) Close() error {
	if !l.shut() {
		return nil
	}

	l.wmu.Lock()
	l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	l.wmu.Unlock()

	return l.conn.Close()
}
