package transport

import (
	"bytes"
	"encoding/binary"
	"net"
)

// Ethernet framing constants.
const (
	DefaultEtherType = 0x88B5 // IEEE 802 local experimental EtherType 1

	ethHeaderLen = 14
	ethMinFrame  = 60 // minimum frame without FCS; shorter frames are zero padded
)

// BroadcastMAC is used as destination when no peer address is configured.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EthernetOptions configures a raw Ethernet link.
type EthernetOptions struct {
	Interface string           // Network interface name, e.g. "eth0"
	Peer      net.HardwareAddr // Destination MAC; nil broadcasts
	EtherType uint16           // 0 selects DefaultEtherType
	MTU       int              // Caps the interface MTU when positive
}

// buildEthernetFrame prepends the Ethernet header to pdu and pads the result
// to the minimum frame size.
func buildEthernetFrame(dst, src net.HardwareAddr, etherType uint16, pdu []byte) []byte {
	n := max(ethHeaderLen+len(pdu), ethMinFrame)
	frame := make([]byte, n)
	copy(frame[0:6], dst)
	copy(frame[6:12], src)
	binary.BigEndian.PutUint16(frame[12:14], etherType)
	copy(frame[ethHeaderLen:], pdu)
	return frame
}

// parseEthernetFrame returns the payload of frame if it carries etherType,
// is addressed to local or broadcast, and was not sent by local. The payload
// may include trailing padding.
func parseEthernetFrame(frame []byte, local net.HardwareAddr, etherType uint16) ([]byte, bool) {
	if len(frame) < ethHeaderLen {
		return nil, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherType {
		return nil, false
	}
	dst, src := frame[0:6], frame[6:12]
	if bytes.Equal(src, local) {
		return nil, false
	}
	if !bytes.Equal(dst, local) && !bytes.Equal(dst, BroadcastMAC) {
		return nil, false
	}
	return frame[ethHeaderLen:], true
}

// htons returns v in network byte order as the kernel expects it in
// sockaddr_ll and the socket protocol argument.
func htons(v uint16) uint16 {
	return binary.NativeEndian.Uint16(binary.BigEndian.AppendUint16(nil, v))
}
