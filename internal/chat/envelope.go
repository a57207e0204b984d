// Package chat is the application layer on top of the adapter: text
// messages, file transfer and peer announcements.
package chat

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"strings"
)

const (
	maxFileName = 0xFFFF
	maxAlias    = 0xFF
	macTextLen  = 17 // "aa:bb:cc:dd:ee:ff"
)

// UnknownAddr stands in for the link address in a HELLO when it is unknown.
const UnknownAddr = "??:??:??:??:??:??"

var ErrEmptyFile = errors.New("chat: empty file name")

// WrapFile builds a FILE payload: name length (u16 BE), base name, contents.
// Only the last path element of name is sent; an overlong name keeps its tail
// so the extension survives.
func WrapFile(name string, data []byte) ([]byte, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return nil, ErrEmptyFile
	}
	if len(name) > maxFileName {
		name = name[len(name)-maxFileName:]
	}

	out := make([]byte, 2, 2+len(name)+len(data))
	binary.BigEndian.PutUint16(out, uint16(len(name)))
	out = append(out, name...)
	return append(out, data...), nil
}

// UnwrapFile splits a FILE payload into a sanitized base name and the file
// contents. It returns false if the envelope is missing or the name is
// unusable.
func UnwrapFile(payload []byte) (string, []byte, bool) {
	if len(payload) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(payload))
	if len(payload) < 2+n {
		return "", nil, false
	}

	name := sanitizeName(string(payload[2 : 2+n]))
	if name == "" {
		return "", nil, false
	}
	return name, payload[2+n:], true
}

// sanitizeName reduces a peer-supplied name to a single safe path element.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." {
		return ""
	}
	return name
}

// Hello is a peer announcement.
type Hello struct {
	Alias string
	Addr  string // Link address as text, UnknownAddr when not known
}

// EncodeHello builds a HELLO payload: alias length (u8), alias, and the link
// address as exactly 17 ASCII bytes.
func EncodeHello(h Hello) []byte {
	alias := h.Alias
	if len(alias) > maxAlias {
		alias = alias[:maxAlias]
	}
	addr := h.Addr
	if len(addr) != macTextLen {
		addr = UnknownAddr
	}

	out := make([]byte, 0, 1+len(alias)+macTextLen)
	out = append(out, byte(len(alias)))
	out = append(out, alias...)
	return append(out, addr...)
}

// ParseHello decodes a HELLO payload. A payload that carries the alias but
// not the address yields UnknownAddr.
func ParseHello(payload []byte) (Hello, bool) {
	if len(payload) < 1 {
		return Hello{}, false
	}
	n := int(payload[0])
	if len(payload) < 1+n {
		return Hello{}, false
	}

	h := Hello{Alias: string(payload[1 : 1+n]), Addr: UnknownAddr}
	if rest := payload[1+n:]; len(rest) >= macTextLen {
		h.Addr = string(rest[:macTextLen])
	}
	return h, true
}
