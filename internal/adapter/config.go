package adapter

import (
	"time"

	"github.com/1ureka/linkchat/internal/protocol"
)

// Clock returns the time elapsed since an arbitrary fixed origin. It must be
// monotonic and non-decreasing; only differences between readings are used.
type Clock func() time.Duration

// MonotonicClock returns a Clock backed by Go's monotonic time reading.
func MonotonicClock() Clock {
	origin := time.Now()
	return func() time.Duration { return time.Since(origin) }
}

// Defaults.
const (
	DefaultMTU          = 1500
	DefaultWindow       = 4
	DefaultRTO          = 300 * time.Millisecond
	DefaultTickInterval = 10 * time.Millisecond
)

// Config holds the reliability parameters shared by Sender and Endpoint.
type Config struct {
	MTU          int           // Largest PDU handed to the link, header and trailer included
	Window       int           // Maximum chunks in flight per message
	RTO          time.Duration // Retransmission timeout, measured from the oldest unacked chunk
	TickInterval time.Duration // How often Endpoint.Run drives Tick
	IdleTimeout  time.Duration // Drop message state with no progress for this long; 0 disables
	Clock        Clock
}

// DefaultConfig returns the stock parameters.
func DefaultConfig() Config {
	return Config{
		MTU:          DefaultMTU,
		Window:       DefaultWindow,
		RTO:          DefaultRTO,
		TickInterval: DefaultTickInterval,
	}
}

// normalized clamps degenerate values to safe minimums instead of failing.
func (c Config) normalized() Config {
	if c.MTU < protocol.MinMTU {
		c.MTU = protocol.MinMTU
	}
	if c.Window < 1 {
		c.Window = 1
	}
	if c.RTO < time.Millisecond {
		c.RTO = time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.Clock == nil {
		c.Clock = MonotonicClock()
	}
	return c
}
