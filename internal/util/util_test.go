package util

import (
	"strings"
	"testing"
)

// countingStringer records how often it is formatted.
type countingStringer struct{ calls int }

func (c *countingStringer) String() string {
	c.calls++
	return "frame"
}

// TestLogDebugSkipsFormatting checks that debug arguments are only formatted
// once debug logging is enabled.
func TestLogDebugSkipsFormatting(t *testing.T) {
	arg := &countingStringer{}

	LogDebug("dropping %s", arg)
	if DebugEnabled() || arg.calls != 0 {
		t.Fatalf("disabled debug formatted its arguments %d times", arg.calls)
	}

	EnableDebug()
	LogDebug("dropping %s", arg)
	if !DebugEnabled() || arg.calls != 1 {
		t.Fatalf("enabled debug formatted its arguments %d times, want 1", arg.calls)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}
	for _, tc := range tests {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	var s stats
	s.AddSent(100)
	s.AddSent(28)
	s.AddRecv(27)
	s.AddRetransmits(3)
	s.AddRejected()
	s.AddMsgSent()
	s.AddExpired(2)

	snap := s.Snapshot()
	if snap.FramesSent != 2 || snap.BytesSent != 128 || snap.FramesRecv != 1 || snap.BytesRecv != 27 {
		t.Fatalf("traffic mismatch: %+v", snap)
	}
	if snap.Retransmits != 3 || snap.Rejected != 1 || snap.MsgsSent != 1 || snap.MsgsExpired != 2 {
		t.Fatalf("event mismatch: %+v", snap)
	}
	if line := snap.String(); !strings.Contains(line, "retx 3") || !strings.Contains(line, "expired 2") {
		t.Fatalf("summary mismatch: %s", line)
	}
}
