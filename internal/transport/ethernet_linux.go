//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/1ureka/linkchat/internal/util"
)

// EthernetLink sends PDUs as raw Ethernet frames through an AF_PACKET socket.
// It needs CAP_NET_RAW.
type EthernetLink struct {
	lifecycle
	handler frameHandler

	fd        int
	ifindex   int
	local     net.HardwareAddr
	peer      net.HardwareAddr
	etherType uint16
	mtu       int

	wmu sync.Mutex
}

// OpenEthernet binds a raw socket to the interface and starts the receive loop.
func OpenEthernet(opts EthernetOptions) (*EthernetLink, error) {
	ifi, err := net.InterfaceByName(opts.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", opts.Interface, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %q has no Ethernet address", opts.Interface)
	}

	etherType := opts.EtherType
	if etherType == 0 {
		etherType = DefaultEtherType
	}
	peer := opts.Peer
	if peer == nil {
		peer = BroadcastMAC
	}
	mtu := ifi.MTU
	if opts.MTU > 0 && opts.MTU < mtu {
		mtu = opts.MTU
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(etherType)))
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  ifi.Index,
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind raw socket to %s: %w", opts.Interface, err)
	}
	// Bounded reads let the receive loop notice Close.
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{Usec: 250_000}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	l := &EthernetLink{
		lifecycle: newLifecycle(),
		fd:        fd,
		ifindex:   ifi.Index,
		local:     ifi.HardwareAddr,
		peer:      peer,
		etherType: etherType,
		mtu:       mtu,
	}
	go l.readLoop()

	util.LogInfo("raw Ethernet on %s (%s), EtherType 0x%04x, mtu %d", opts.Interface, l.local, etherType, mtu)
	return l, nil
}

func (l *EthernetLink) readLoop() {
	defer unix.Close(l.fd)

	buf := make([]byte, l.mtu+ethHeaderLen+64)
	for !l.isClosed() {
		n, from, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if !l.isClosed() {
				util.LogError("raw socket receive failed: %v", err)
			}
			l.shut()
			return
		}
		if sll, ok := from.(*unix.SockaddrLinklayer); ok && sll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}

		payload, ok := parseEthernetFrame(buf[:n], l.local, l.etherType)
		if !ok {
			continue
		}
		l.handler.deliver(append([]byte(nil), payload...))
	}
}

// Send transmits pdu in one Ethernet frame addressed to the peer.
func (l *EthernetLink) Send(pdu []byte) error {
	if l.isClosed() {
		return ErrClosed
	}
	if len(pdu) > l.mtu {
		return ErrFrameTooLarge
	}

	frame := buildEthernetFrame(l.peer, l.local, l.etherType, pdu)
	to := &unix.SockaddrLinklayer{
		Protocol: htons(l.etherType),
		Ifindex:  l.ifindex,
		Halen:    6,
	}
	copy(to.Addr[:], l.peer)

	l.wmu.Lock()
	defer l.wmu.Unlock()
	return unix.Sendto(l.fd, frame, 0, to)
}

// OnFrame registers the callback for PDUs received from the wire.
func (l *EthernetLink) OnFrame(fn func([]byte)) {
	l.handler.set(fn)
}

// MTU returns the largest PDU that fits in one frame.
func (l *EthernetLink) MTU() int {
	return l.mtu
}

// LocalAddr returns the interface MAC address.
func (l *EthernetLink) LocalAddr() net.HardwareAddr {
	return l.local
}

// Close stops the receive loop; the socket is released once it exits.
func (l *EthernetLink) Close() error {
	l.shut()
	return nil
}
