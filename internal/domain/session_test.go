package domain

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{61, "00:01:01"},
		{3600, "01:00:00"},
		{3723, "01:02:03"},
		{-5, "00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCallSessionElapsed(t *testing.T) {
	s := NewCallSession("+15551234567")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if got := s.Elapsed(now); got != 0 {
		t.Fatalf("Elapsed before start = %d, want 0", got)
	}

	s.StartTime = now
	if got := s.Elapsed(now.Add(2500 * time.Millisecond)); got != 2 {
		t.Fatalf("Elapsed = %d, want 2", got)
	}
	if got := s.Elapsed(now.Add(-time.Second)); got != 0 {
		t.Fatalf("Elapsed with clock skew = %d, want 0", got)
	}
}

func TestCallStateDialing(t *testing.T) {
	for state, want := range map[CallState]bool{
		StateIdle:       false,
		StateConnecting: true,
		StateRinging:    true,
		StateInProgress: true,
		StateEnded:      false,
	} {
		if got := state.Dialing(); got != want {
			t.Errorf("%s.Dialing() = %v, want %v", state, got, want)
		}
	}
}
