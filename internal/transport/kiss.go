package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/1ureka/linkchat/internal/util"
)

// KISS special bytes.
const (
	kissFEND    = 0xC0
	kissFESC    = 0xDB
	kissTFEND   = 0xDC
	kissTFESC   = 0xDD
	kissCmdData = 0x00 // data frame on TNC port 0
)

// KISSMTU bounds a PDU sent to a TNC. AX.25 style radios rarely carry more
// than a few hundred bytes per frame.
const KISSMTU = 256

// kissEncode wraps pdu in a KISS data frame with byte stuffing.
func kissEncode(pdu []byte) []byte {
	out := make([]byte, 0, len(pdu)+4)
	out = append(out, kissFEND, kissCmdData)
	for _, b := range pdu {
		switch b {
		case kissFEND:
			out = append(out, kissFESC, kissTFEND)
		case kissFESC:
			out = append(out, kissFESC, kissTFESC)
		default:
			out = append(out, b)
		}
	}
	return append(out, kissFEND)
}

// kissDecoder reassembles KISS frames from an arbitrary byte stream.
type kissDecoder struct {
	buf     []byte
	inFrame bool
	escaped bool
}

// feed consumes data and returns the payloads of every data frame completed
// by it. Non-data commands, empty frames and frames with invalid escapes are
// skipped.
func (d *kissDecoder) feed(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if b == kissFEND {
			if d.inFrame && len(d.buf) > 1 && d.buf[0]&0x0F == kissCmdData && !d.escaped {
				frames = append(frames, append([]byte(nil), d.buf[1:]...))
			}
			d.buf = d.buf[:0]
			d.inFrame = true
			d.escaped = false
			continue
		}
		if !d.inFrame {
			continue
		}
		if d.escaped {
			d.escaped = false
			switch b {
			case kissTFEND:
				d.buf = append(d.buf, kissFEND)
			case kissTFESC:
				d.buf = append(d.buf, kissFESC)
			default:
				// Protocol violation: drop the frame.
				d.buf = d.buf[:0]
				d.inFrame = false
			}
			continue
		}
		if b == kissFESC {
			d.escaped = true
			continue
		}
		d.buf = append(d.buf, b)
	}
	return frames
}

// KISSLink carries PDUs as KISS frames over a byte stream, typically the
// serial port of a packet radio TNC.
type KISSLink struct {
	lifecycle
	handler frameHandler

	rw  io.ReadWriteCloser
	wmu sync.Mutex
	mtu int
}

// NewKISSLink starts reading KISS frames from rw.
func NewKISSLink(rw io.ReadWriteCloser, mtu int) *KISSLink {
	if mtu <= 0 {
		mtu = KISSMTU
	}
	l := &KISSLink{
		lifecycle: newLifecycle(),
		rw:        rw,
		mtu:       mtu,
	}
	go l.readLoop()
	return l
}

// OpenSerialKISS opens a serial TNC at 8N1 and returns a KISS link on it.
func OpenSerialKISS(portName string, baud, mtu int) (*KISSLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}

	util.LogInfo("KISS TNC on %s at %d baud", portName, baud)
	return NewKISSLink(port, mtu), nil
}

func (l *KISSLink) readLoop() {
	var dec kissDecoder
	buf := make([]byte, 1024)
	for {
		n, err := l.rw.Read(buf)
		for _, f := range dec.feed(buf[:n]) {
			l.handler.deliver(f)
		}
		if err != nil {
			if !l.isClosed() && !errors.Is(err, io.EOF) {
				util.LogError("KISS read failed: %v", err)
			}
			l.shut()
			return
		}
		if l.isClosed() {
			return
		}
	}
}

// Send writes pdu as one KISS data frame.
func (l *KISSLink) Send(pdu []byte) error {
	if l.isClosed() {
		return ErrClosed
	}
	if len(pdu) > l.mtu {
		return ErrFrameTooLarge
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := l.rw.Write(kissEncode(pdu))
	return err
}

// OnFrame registers the callback for PDUs decoded from the stream.
func (l *KISSLink) OnFrame(fn func([]byte)) {
	l.handler.set(fn)
}

// MTU returns the largest PDU the link accepts.
func (l *KISSLink) MTU() int {
	return l.mtu
}

// Close shuts the link down and closes the underlying stream.
func (l *KISSLink) Close() error {
	if !l.shut() {
		return nil
	}
	return l.rw.Close()
}
