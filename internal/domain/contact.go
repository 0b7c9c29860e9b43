package domain

import (
	"time"
)

// Contact is the subset of a contact record this service reads and writes.
// Only Notes is owned here; the other fields are informational.
type Contact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Notes       string    `json:"notes"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CallOutcome classifies a finished call.
type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed" // reached in-progress
	OutcomeMissed    CallOutcome = "missed"    // ended before answer
)

// CallRecord is one row of local call history.
type CallRecord struct {
	ID          string      `json:"id"`
	PhoneNumber string      `json:"phone_number"`
	ContactID   string      `json:"contact_id,omitempty"`
	CallSID     string      `json:"call_sid,omitempty"`
	Outcome     CallOutcome `json:"outcome"`
	Recorded    bool        `json:"recorded"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     time.Time   `json:"ended_at"`
	Duration    int64       `json:"duration"`
}
