package call

import (
	"github.com/ashureev/calldesk/internal/domain"
	"github.com/ashureev/calldesk/internal/layout"
)

// Banner texts.
const (
	BannerRecording = "Recording"
	BannerCalling   = "Calling..."
)

// Snapshot is an immutable copy of the orchestrator state.
type Snapshot struct {
	Version           uint64              `json:"version"`
	Session           *domain.CallSession `json:"session"`
	PopupVisible      bool                `json:"popup_visible"`
	MiniPlayerVisible bool                `json:"mini_player_visible"`
	ContactID         string              `json:"contact_id,omitempty"`
	Notes             string              `json:"notes"`
	Corner            layout.Corner       `json:"corner"`
	Dragging          bool                `json:"dragging"`
	Recording         bool                `json:"recording"`
	NotesBounce       bool                `json:"notes_bounce"`
	ActiveOrDialing   bool                `json:"active_or_dialing"`
	Banner            string              `json:"banner,omitempty"`
	Timer             string              `json:"timer"`
}

// State returns the session state, or the empty state without a session.
func (s Snapshot) State() domain.CallState {
	if s.Session == nil {
		return ""
	}
	return s.Session.State
}

// VisualizerActive reports whether the visualizer should animate.
func (s Snapshot) VisualizerActive() bool {
	return s.State() == domain.StateInProgress
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:           o.version,
		PopupVisible:      o.popup,
		MiniPlayerVisible: o.miniPlayer,
		ContactID:         o.contactID,
		Notes:             o.notes,
		Corner:            o.corner,
		Dragging:          o.dragging,
		Recording:         o.recording,
		NotesBounce:       o.notesBounce,
		ActiveOrDialing:   o.activeLocked(),
		Timer:             domain.FormatDuration(0),
	}
	if o.session != nil {
		cp := *o.session
		snap.Session = &cp
		snap.Timer = domain.FormatDuration(cp.Duration)
	}
	snap.Banner = banner(snap)
	return snap
}

func banner(s Snapshot) string {
	if s.Recording {
		return BannerRecording
	}
	switch s.State() {
	case domain.StateConnecting, domain.StateRinging:
		return BannerCalling
	}
	return ""
}
