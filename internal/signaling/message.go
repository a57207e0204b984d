// Package signaling handles the WebSocket rendezvous between two peers: the
// SDP/ICE exchange for a WebRTC link, or a plain WebSocket frame link.
package signaling

// msgType identifies the kind of signaling message.
type msgType string

const (
	msgTypeOffer     msgType = "offer"
	msgTypeAnswer    msgType = "answer"
	msgTypeCandidate msgType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket during signaling.
type message struct {
	Type      msgType `json:"type"`
	SDP       string  `json:"sdp,omitempty"`
	Candidate string  `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
