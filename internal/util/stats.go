package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide link/message counter.
var Stats = &stats{}

type stats struct {
	FramesSent  atomic.Int64 // frames handed to the link, retransmissions and acks included
	FramesRecv  atomic.Int64 // frames read from the link
	BytesSent   atomic.Int64 // cumulative bytes written to the link
	BytesRecv   atomic.Int64 // cumulative bytes read from the link
	Retransmits atomic.Int64 // frames re-sent after an RTO
	Rejected    atomic.Int64 // inbound frames dropped as malformed or corrupt
	MsgsSent    atomic.Int64 // messages fully acknowledged by the peer
	MsgsRecv    atomic.Int64 // messages reassembled and delivered locally
	MsgsExpired atomic.Int64 // messages dropped by the idle sweep (either direction)
}

func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddRetransmits(n int) { s.Retransmits.Add(int64(n)) }
func (s *stats) AddRejected()         { s.Rejected.Add(1) }
func (s *stats) AddMsgSent()          { s.MsgsSent.Add(1) }
func (s *stats) AddMsgRecv()          { s.MsgsRecv.Add(1) }
func (s *stats) AddExpired(n int)     { s.MsgsExpired.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesSent, FramesRecv int64
	BytesSent, BytesRecv   int64
	Retransmits, Rejected  int64
	MsgsSent, MsgsRecv     int64
	MsgsExpired            int64
}

// Snapshot loads every counter once.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:  s.FramesSent.Load(),
		FramesRecv:  s.FramesRecv.Load(),
		BytesSent:   s.BytesSent.Load(),
		BytesRecv:   s.BytesRecv.Load(),
		Retransmits: s.Retransmits.Load(),
		Rejected:    s.Rejected.Load(),
		MsgsSent:    s.MsgsSent.Load(),
		MsgsRecv:    s.MsgsRecv.Load(),
		MsgsExpired: s.MsgsExpired.Load(),
	}
}

// String renders the totals on one line, as shown by the chat /info command.
func (s Snapshot) String() string {
	return fmt.Sprintf("frames %d↑ %d↓ | bytes %s↑ %s↓ | retx %d | rejected %d | msgs %d↑ %d↓ | expired %d",
		s.FramesSent, s.FramesRecv,
		formatBytes(float64(s.BytesSent)), formatBytes(float64(s.BytesRecv)),
		s.Retransmits, s.Rejected,
		s.MsgsSent, s.MsgsRecv,
		s.MsgsExpired,
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs link statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()

				outS := float64(cur.BytesSent-prev.BytesSent) / 10.0
				inS := float64(cur.BytesRecv-prev.BytesRecv) / 10.0
				retx := cur.Retransmits - prev.Retransmits

				if retx > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, retx))
				}

				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the recent throughput for display in the logger.
func formatStats(inS, outS float64, retx int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Retx: %3d",
		formatBytes(inS),
		formatBytes(outS),
		retx,
	)
}
