// Package call owns the single call session and its presentation state.
package call

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/calldesk/internal/domain"
	"github.com/ashureev/calldesk/internal/layout"
)

var (
	// ErrCallInProgress rejects opening or discarding a session while a call
	// is live or dialing. Its text is shown to the operator as-is.
	ErrCallInProgress = errors.New("please hang up the current call before starting a new one")
	// ErrNoSession is returned by operations that need a session.
	ErrNoSession = errors.New("no call session")
)

// NotesCallback receives note edits for the linked contact.
type NotesCallback func(contactID, notes string)

// Orchestrator holds the process-wide call session, which surfaces show it,
// the linked contact and the recording flag. All methods are safe for
// concurrent use; subscribers are notified after the lock is released.
type Orchestrator struct {
	now            func() time.Time
	bounceDuration time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	session     *domain.CallSession
	popup       bool
	miniPlayer  bool
	contactID   string
	notes       string
	corner      layout.Corner
	dragging    bool
	recording   bool
	notesBounce bool
	bounceTimer *time.Timer
	bounceGen   uint64
	notesCB     NotesCallback
	hangUp      *hangUpRegistration
	subs        map[int]func(Snapshot)
	nextSub     int
	version     uint64
}

type hangUpRegistration struct {
	fn func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBounceDuration sets how long the notes bounce flag stays raised.
func WithBounceDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.bounceDuration = d
		}
	}
}

// WithCorner sets the initial mini-player corner.
func WithCorner(c layout.Corner) Option {
	return func(o *Orchestrator) {
		if c.Valid() {
			o.corner = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns an orchestrator with no session.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		now:            time.Now,
		bounceDuration: 400 * time.Millisecond,
		logger:         slog.Default(),
		corner:         layout.BottomRight,
		subs:           make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers fn for every state change and returns its cancel func.
// Snapshots carry a version; a subscriber may see them out of order when
// changes race and should drop versions it has already passed.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (cancel func()) {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// IsActiveOrDialing reports whether a call is dialing, live or recording.
func (o *Orchestrator) IsActiveOrDialing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeLocked()
}

// OpenPopup starts a fresh idle session for phone shown in the popup.
func (o *Orchestrator) OpenPopup(phone string) error {
	var err error
	o.update(func() bool {
		if o.activeLocked() {
			err = ErrCallInProgress
			return false
		}
		o.resetLocked()
		o.session = domain.NewCallSession(phone)
		o.popup = true
		o.miniPlayer = false
		return true
	})
	if err != nil {
		o.logger.Warn("Popup open rejected", "phone_number", phone, "reason", err)
	}
	return err
}

// OpenMiniPlayer starts a fresh idle session for phone shown in the
// mini-player and links it to a contact.
func (o *Orchestrator) OpenMiniPlayer(phone, contactID, notes string) error {
	var err error
	o.update(func() bool {
		if o.activeLocked() {
			err = ErrCallInProgress
			return false
		}
		o.resetLocked()
		o.session = domain.NewCallSession(phone)
		o.contactID = contactID
		o.notes = notes
		o.miniPlayer = true
		o.popup = false
		return true
	})
	if err != nil {
		o.logger.Warn("Mini-player open rejected", "phone_number", phone, "contact_id", contactID, "reason", err)
	}
	return err
}

// ClosePopup hides the popup. A live or dialing call is moved to the
// mini-player so it never loses every surface.
func (o *Orchestrator) ClosePopup() {
	o.update(func() bool {
		o.popup = false
		if o.session != nil && o.activeLocked() {
			o.miniPlayer = true
		}
		return true
	})
}

// CloseMiniPlayer discards an idle session with its surfaces and linkage.
func (o *Orchestrator) CloseMiniPlayer() error {
	var err error
	o.update(func() bool {
		if o.activeLocked() {
			err = ErrCallInProgress
			return false
		}
		o.resetLocked()
		return true
	})
	return err
}

// ReopenPopup shows both surfaces.
func (o *Orchestrator) ReopenPopup() {
	o.update(func() bool {
		o.popup = true
		o.miniPlayer = true
		return true
	})
}

// StartCall moves the session to connecting and stamps StartTime.
func (o *Orchestrator) StartCall() error {
	var err error
	o.update(func() bool {
		if o.session == nil {
			err = ErrNoSession
			return false
		}
		o.session.State = domain.StateConnecting
		o.session.StartTime = o.now()
		o.session.Duration = 0
		return true
	})
	return err
}

// EndCall destroys the session and clears every flag and linkage. It is the
// single teardown path for every way a call can end.
func (o *Orchestrator) EndCall() {
	o.update(func() bool {
		had := o.session != nil || o.popup || o.miniPlayer || o.recording
		o.resetLocked()
		return had
	})
}

// SetState moves the session to state. Without a session it does nothing.
func (o *Orchestrator) SetState(state domain.CallState) {
	o.update(func() bool {
		if o.session == nil || o.session.State == state {
			return false
		}
		o.session.State = state
		return true
	})
}

// MarkAnswered re-stamps StartTime at answer so the timer counts talk time.
func (o *Orchestrator) MarkAnswered() {
	o.update(func() bool {
		if o.session == nil {
			return false
		}
		o.session.StartTime = o.now()
		o.session.Duration = 0
		return true
	})
}

// SetCallSID records the provider call id.
func (o *Orchestrator) SetCallSID(sid string) {
	o.update(func() bool {
		if o.session == nil || o.session.CallSID == sid {
			return false
		}
		o.session.CallSID = sid
		return true
	})
}

// StartRecording raises the recording flag for a live call.
func (o *Orchestrator) StartRecording() {
	o.update(func() bool {
		if o.session == nil || o.session.State != domain.StateInProgress || o.recording {
			return false
		}
		o.recording = true
		return true
	})
}

// StopRecording lowers the recording flag.
func (o *Orchestrator) StopRecording() {
	o.update(func() bool {
		if !o.recording {
			return false
		}
		o.recording = false
		return true
	})
}

// Tick refreshes the derived duration from StartTime.
func (o *Orchestrator) Tick() {
	o.update(func() bool {
		if o.session == nil || !o.session.Started() {
			return false
		}
		d := o.session.Elapsed(o.now())
		if d == o.session.Duration {
			return false
		}
		o.session.Duration = d
		return true
	})
}

// UpdateNotes replaces the linked notes and forwards them to the registered
// callback when a contact is linked.
func (o *Orchestrator) UpdateNotes(text string) {
	var cb NotesCallback
	var contactID string
	o.update(func() bool {
		o.notes = text
		cb, contactID = o.notesCB, o.contactID
		return true
	})
	if cb != nil && contactID != "" {
		cb(contactID, text)
	}
}

// RegisterNotesCallback installs fn, replacing any earlier callback.
func (o *Orchestrator) RegisterNotesCallback(fn NotesCallback) {
	o.mu.Lock()
	o.notesCB = fn
	o.mu.Unlock()
}

// UnregisterNotesCallback removes the callback.
func (o *Orchestrator) UnregisterNotesCallback() {
	o.mu.Lock()
	o.notesCB = nil
	o.mu.Unlock()
}

// RegisterHangUp installs fn as the hang-up implementation. The returned
// release clears it only while it is still the installed one, so a surface
// that unmounts late cannot remove a newer registration.
func (o *Orchestrator) RegisterHangUp(fn func()) (release func()) {
	reg := &hangUpRegistration{fn: fn}
	o.mu.Lock()
	o.hangUp = reg
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		if o.hangUp == reg {
			o.hangUp = nil
		}
		o.mu.Unlock()
	}
}

// HangUp invokes the installed hang-up implementation, if any.
func (o *Orchestrator) HangUp() bool {
	o.mu.Lock()
	reg := o.hangUp
	o.mu.Unlock()
	if reg == nil || reg.fn == nil {
		return false
	}
	reg.fn()
	return true
}

// SetCorner records the corner the mini-player settled in.
func (o *Orchestrator) SetCorner(c layout.Corner) {
	if !c.Valid() {
		return
	}
	o.update(func() bool {
		if o.corner == c {
			return false
		}
		o.corner = c
		return true
	})
}

// SetDragging records whether the mini-player is being dragged.
func (o *Orchestrator) SetDragging(dragging bool) {
	o.update(func() bool {
		if o.dragging == dragging {
			return false
		}
		o.dragging = dragging
		return true
	})
}

// TriggerNotesBounce raises the notes bounce flag; it drops by itself after
// the bounce duration.
func (o *Orchestrator) TriggerNotesBounce() {
	o.update(func() bool {
		o.notesBounce = true
		if o.bounceTimer != nil {
			o.bounceTimer.Stop()
		}
		o.bounceGen++
		gen := o.bounceGen
		o.bounceTimer = time.AfterFunc(o.bounceDuration, func() { o.expireBounce(gen) })
		return true
	})
}

// ResetNotesBounce drops the notes bounce flag.
func (o *Orchestrator) ResetNotesBounce() {
	o.update(func() bool {
		if !o.notesBounce {
			return false
		}
		o.stopBounceLocked()
		return true
	})
}

func (o *Orchestrator) expireBounce(gen uint64) {
	o.update(func() bool {
		if o.bounceTimer == nil || o.bounceGen != gen {
			return false
		}
		o.stopBounceLocked()
		return true
	})
}

func (o *Orchestrator) stopBounceLocked() {
	if o.bounceTimer != nil {
		o.bounceTimer.Stop()
		o.bounceTimer = nil
	}
	o.notesBounce = false
}

func (o *Orchestrator) activeLocked() bool {
	if o.session == nil {
		return false
	}
	return o.session.State.Dialing() || o.recording
}

// resetLocked drops the session and everything tied to it.
func (o *Orchestrator) resetLocked() {
	o.session = nil
	o.popup = false
	o.miniPlayer = false
	o.contactID = ""
	o.notes = ""
	o.recording = false
	o.stopBounceLocked()
}

// update applies fn under the lock and, if it reports a change, notifies
// subscribers with the resulting snapshot.
func (o *Orchestrator) update(fn func() bool) {
	o.mu.Lock()
	if !fn() {
		o.mu.Unlock()
		return
	}
	o.version++
	snap := o.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
}
