//go:build !linux

package transport

import (
	"errors"
	"net"
)

// EthernetLink is only available on Linux.
type EthernetLink struct {
	lifecycle
}

// OpenEthernet always fails outside Linux, which lacks AF_PACKET sockets.
func OpenEthernet(opts EthernetOptions) (*EthernetLink, error) {
	return nil, errors.New("transport: raw Ethernet links require linux")
}

func (l *EthernetLink) Send([]byte) error           { return ErrClosed }
func (l *EthernetLink) OnFrame(func([]byte))        {}
func (l *EthernetLink) MTU() int                    { return 0 }
func (l *EthernetLink) LocalAddr() net.HardwareAddr { return nil }
func (l *EthernetLink) Close() error                { return nil }
