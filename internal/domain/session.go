// Package domain holds the core call-desk types shared across packages.
package domain

import (
	"fmt"
	"time"
)

// CallState is the lifecycle state of a call session.
type CallState string

const (
	StateIdle       CallState = "idle"
	StateConnecting CallState = "connecting"
	StateRinging    CallState = "ringing"
	StateInProgress CallState = "in-progress"
	StateEnded      CallState = "ended"
)

// Dialing reports whether the state is between dial and answer or live.
func (s CallState) Dialing() bool {
	switch s {
	case StateConnecting, StateRinging, StateInProgress:
		return true
	}
	return false
}

// CallSession is the single process-wide record of the call being placed.
type CallSession struct {
	PhoneNumber string    `json:"phone_number"`
	State       CallState `json:"state"`
	StartTime   time.Time `json:"start_time,omitzero"`
	Duration    int64     `json:"duration"` // whole seconds, derived from StartTime
	CallSID     string    `json:"call_sid,omitempty"`
}

// NewCallSession returns an idle session for phone.
func NewCallSession(phone string) *CallSession {
	return &CallSession{PhoneNumber: phone, State: StateIdle}
}

// Started reports whether StartTime has been stamped.
func (s *CallSession) Started() bool {
	return !s.StartTime.IsZero()
}

// Elapsed returns the whole seconds since StartTime at now.
func (s *CallSession) Elapsed(now time.Time) int64 {
	if !s.Started() || now.Before(s.StartTime) {
		return 0
	}
	return int64(now.Sub(s.StartTime) / time.Second)
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
