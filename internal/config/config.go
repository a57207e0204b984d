// Package config holds the CLI configuration: defaults, an optional TOML
// file, and the clamping rules shared with the adapter.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/1ureka/linkchat/internal/adapter"
	"github.com/1ureka/linkchat/internal/protocol"
	"github.com/1ureka/linkchat/internal/transport"
)

// Role represents which side of the rendezvous this process plays.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// LinkKind selects the frame link the chat runs over.
type LinkKind string

const (
	LinkWebRTC    LinkKind = "webrtc"
	LinkWebSocket LinkKind = "ws"
	LinkEthernet  LinkKind = "eth"
	LinkKISS      LinkKind = "kiss"
)

// Defaults.
const (
	DefaultOutDir      = "inbox"
	DefaultAlias       = "LinkChat User"
	DefaultBaud        = 9600
	DefaultIdleTimeout = 2 * time.Minute
)

// Config stores every parameter gathered from the config file, CLI flags and
// interactive prompts.
type Config struct {
	Link LinkKind
	Role Role

	// WebRTC / WebSocket rendezvous
	WSAddr string // Host: listen address of the signaling server
	WSURL  string // Client: signaling server URL
	PIN    string // Client: PIN shown by the host

	// Raw Ethernet
	Interface string
	PeerMAC   string // Empty broadcasts
	EtherType uint16

	// KISS TNC
	SerialPort string
	Baud       int

	// Reliability
	MTU         int
	Window      int
	RTO         time.Duration
	Tick        time.Duration
	IdleTimeout time.Duration

	// Chat
	OutDir string
	Alias  string
	Debug  bool
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Link:        LinkWebRTC,
		WSAddr:      ":0",
		EtherType:   transport.DefaultEtherType,
		Baud:        DefaultBaud,
		MTU:         adapter.DefaultMTU,
		Window:      adapter.DefaultWindow,
		RTO:         adapter.DefaultRTO,
		Tick:        adapter.DefaultTickInterval,
		IdleTimeout: DefaultIdleTimeout,
		OutDir:      DefaultOutDir,
		Alias:       DefaultAlias,
	}
}

type fileConfig struct {
	Link       string `toml:"link"`
	Role       string `toml:"role"`
	WSAddr     string `toml:"ws_addr"`
	WSURL      string `toml:"ws_url"`
	PIN        string `toml:"pin"`
	Interface  string `toml:"interface"`
	PeerMAC    string `toml:"peer_mac"`
	EtherType  int64  `toml:"ethertype"`
	SerialPort string `toml:"serial_port"`
	Baud       int    `toml:"baud"`
	MTU        int    `toml:"mtu"`
	Window     int    `toml:"window"`
	RTO        string `toml:"rto"`
	Tick       string `toml:"tick"`
	Idle       string `toml:"idle_timeout"`
	OutDir     string `toml:"outdir"`
	Alias      string `toml:"alias"`
	Debug      bool   `toml:"debug"`
}

// Load reads a TOML file and overlays the keys it defines on Default().
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	str := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	if meta.IsDefined("link") {
		cfg.Link = LinkKind(strings.ToLower(strings.TrimSpace(raw.Link)))
	}
	if meta.IsDefined("role") {
		cfg.Role = Role(strings.ToLower(strings.TrimSpace(raw.Role)))
	}
	str("ws_addr", raw.WSAddr, &cfg.WSAddr)
	str("ws_url", raw.WSURL, &cfg.WSURL)
	str("pin", raw.PIN, &cfg.PIN)
	str("interface", raw.Interface, &cfg.Interface)
	str("peer_mac", raw.PeerMAC, &cfg.PeerMAC)
	str("serial_port", raw.SerialPort, &cfg.SerialPort)
	str("outdir", raw.OutDir, &cfg.OutDir)
	str("alias", raw.Alias, &cfg.Alias)

	if meta.IsDefined("ethertype") {
		if raw.EtherType <= 0 || raw.EtherType > 0xFFFF {
			return Config{}, fmt.Errorf("parse ethertype: 0x%x out of range", raw.EtherType)
		}
		cfg.EtherType = uint16(raw.EtherType)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("mtu") {
		cfg.MTU = raw.MTU
	}
	if meta.IsDefined("window") {
		cfg.Window = raw.Window
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}

	if err := dur("rto", raw.RTO, &cfg.RTO); err != nil {
		return Config{}, err
	}
	if err := dur("tick", raw.Tick, &cfg.Tick); err != nil {
		return Config{}, err
	}
	if err := dur("idle_timeout", raw.Idle, &cfg.IdleTimeout); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Normalize clamps degenerate reliability values and fills empty chat fields.
func (c *Config) Normalize() {
	if c.MTU < protocol.MinMTU {
		c.MTU = protocol.MinMTU
	}
	if c.Window < 1 {
		c.Window = 1
	}
	if c.RTO < time.Millisecond {
		c.RTO = time.Millisecond
	}
	if c.Tick <= 0 {
		c.Tick = adapter.DefaultTickInterval
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.EtherType == 0 {
		c.EtherType = transport.DefaultEtherType
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.OutDir == "" {
		c.OutDir = DefaultOutDir
	}
	if c.Alias == "" {
		c.Alias = DefaultAlias
	}
	if len(c.Alias) > 255 {
		c.Alias = c.Alias[:255]
	}
}

// Validate reports settings that no link can start with.
func (c Config) Validate() error {
	switch c.Link {
	case LinkWebRTC, LinkWebSocket:
		switch c.Role {
		case RoleHost:
		case RoleClient:
			if c.WSURL == "" {
				return errors.New("client role needs a WebSocket URL")
			}
		default:
			return fmt.Errorf("invalid role %q: must be 'host' or 'client'", c.Role)
		}
	case LinkEthernet:
		if c.Interface == "" {
			return errors.New("eth link needs an interface name")
		}
		if _, err := c.PeerHardwareAddr(); err != nil {
			return err
		}
	case LinkKISS:
		if c.SerialPort == "" {
			return errors.New("kiss link needs a serial port")
		}
	default:
		return fmt.Errorf("invalid link %q: must be webrtc, ws, eth or kiss", c.Link)
	}
	return nil
}

// PeerHardwareAddr parses PeerMAC; an empty value yields nil (broadcast).
func (c Config) PeerHardwareAddr() (net.HardwareAddr, error) {
	if c.PeerMAC == "" {
		return nil, nil
	}
	mac, err := net.ParseMAC(c.PeerMAC)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("invalid peer MAC %q", c.PeerMAC)
	}
	return mac, nil
}

// Adapter returns the reliability parameters for adapter.NewEndpoint.
func (c Config) Adapter() adapter.Config {
	return adapter.Config{
		MTU:          c.MTU,
		Window:       c.Window,
		RTO:          c.RTO,
		TickInterval: c.Tick,
		IdleTimeout:  c.IdleTimeout,
	}
}
