package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/linkchat/internal/transport"
	"github.com/1ureka/linkchat/internal/util"
)

// listen starts a WS server on wsAddr, prints the port and PIN, and waits for
// the first client presenting that PIN. The server stops accepting once the
// client is in.
func listen(ctx context.Context, wsAddr string) (*websocket.Conn, error) {
	pin := generatePIN(pinLength)
	srv := newServer(pin)
	wsPort, err := srv.start(wsAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nForward this port if the peer is outside your LAN.", wsPort, pin),
	)
	util.LogInfo("waiting for peer to connect...")

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	util.LogInfo("peer connected from %s", wsConn.RemoteAddr())
	return wsConn, nil
}

// EstablishAsHost executes the full host-side WebRTC signaling flow:
//  1. Start a WS server on wsAddr and wait for the client
//  2. Create a Transport
//  3. Send the Offer and trade ICE candidates
//  4. Wait for the DataChannel to be ready
//  5. Close the WS server and connection
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.Transport, error) {
	wsConn, err := listen(ctx, wsAddr)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()

	return establish(ctx, wsConn, true)
}

// EstablishAsClient executes the full client-side WebRTC signaling flow:
//  1. Connect to the host's WS server with the PIN
//  2. Create a Transport
//  3. Answer the Offer and trade ICE candidates
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection
func EstablishAsClient(ctx context.Context, wsURL, pin string) (*transport.Transport, error) {
	util.LogInfo("connecting to host...")
	wsConn, err := connect(ctx, wsURL, pin)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	return establish(ctx, wsConn, false)
}

// establish runs the SDP/ICE exchange over wsConn. The offerer is the host.
func establish(ctx context.Context, wsConn *websocket.Conn, offerer bool) (*transport.Transport, error) {
	tr, err := transport.NewTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}

	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Best effort: a lost candidate only narrows the ICE options.
			s.sendCandidate(string(data))
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // Exits when wsConn is closed by the caller.
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogDebug("WebRTC DataChannel established, closing WS")
		return tr, nil

	case err := <-errCh:
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}

// AcceptWebSocket waits for a peer on wsAddr and keeps the WebSocket itself
// as the frame link, for networks where WebRTC cannot connect.
func AcceptWebSocket(ctx context.Context, wsAddr string) (*transport.WebSocketLink, error) {
	wsConn, err := listen(ctx, wsAddr)
	if err != nil {
		return nil, err
	}
	return transport.NewWebSocketLink(wsConn), nil
}

// DialWebSocket connects to a host started with AcceptWebSocket.
func DialWebSocket(ctx context.Context, wsURL, pin string) (*transport.WebSocketLink, error) {
	wsConn, err := connect(ctx, wsURL, pin)
	if err != nil {
		return nil, err
	}
	util.LogDebug("WS connected: %s", wsURL)
	return transport.NewWebSocketLink(wsConn), nil
}
