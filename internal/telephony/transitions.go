package telephony

import (
	"time"

	"github.com/ashureev/calldesk/internal/domain"
)

// transition applies one call event to the session. It runs under serial
// and only for the current call.
type transition func(b *Bridge, call Call, ev Event)

// transitions maps every client event to its session transition.
var transitions = map[Event]transition{
	EventRinging:    onRinging,
	EventAccept:     onAccept,
	EventDisconnect: onTerminated,
	EventCancel:     onTerminated,
	EventReject:     onTerminated,
}

// handledEvents fixes the order handlers are attached in.
var handledEvents = []Event{EventRinging, EventAccept, EventDisconnect, EventCancel, EventReject}

func onRinging(b *Bridge, _ Call, _ Event) {
	b.session.SetState(domain.StateRinging)
}

func onAccept(b *Bridge, call Call, _ Event) {
	b.session.SetState(domain.StateInProgress)
	b.session.MarkAnswered()
	if sid := call.Parameters()[ParamCallSID]; sid != "" {
		b.session.SetCallSID(sid)
		b.logger.Info("Call answered", "call_sid", sid)
	}
	b.answeredAt = time.Now()
	b.startTickerLocked()
	b.startCaptureLocked(call)
}

func onTerminated(b *Bridge, _ Call, ev Event) {
	b.teardownLocked(string(ev))
}
