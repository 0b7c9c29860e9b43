// Package telephony bridges the external voice client into call session state.
package telephony

import (
	"context"
	"errors"

	"github.com/ashureev/calldesk/internal/media"
)

// Event is a call lifecycle event raised by the voice client.
type Event string

const (
	EventRinging    Event = "ringing"
	EventAccept     Event = "accept"
	EventDisconnect Event = "disconnect"
	EventCancel     Event = "cancel"
	EventReject     Event = "reject"
)

// Terminal reports whether e ends the call.
func (e Event) Terminal() bool {
	switch e {
	case EventDisconnect, EventCancel, EventReject:
		return true
	}
	return false
}

// DeviceEvent is a registration event raised by the voice client.
type DeviceEvent string

const (
	DeviceRegistered   DeviceEvent = "registered"
	DeviceUnregistered DeviceEvent = "unregistered"
	DeviceError        DeviceEvent = "error"
)

// ParamCallSID is the provider call identifier in Call.Parameters.
const ParamCallSID = "CallSid"

var (
	// ErrNotInitialized is returned when dialing before the device registered.
	ErrNotInitialized = errors.New("voice device not initialized")
	// ErrCallInProgress is returned when dialing while a call is live or dialing.
	ErrCallInProgress = errors.New("a call is already in progress")
	// ErrDialAbandoned is returned when the call was hung up while connecting.
	ErrDialAbandoned = errors.New("call hung up before it connected")
	// ErrDeviceOffline is returned by a device with no connected client.
	ErrDeviceOffline = errors.New("voice device offline")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("telephony bridge closed")
)

// ConnectOptions are passed to Device.Connect.
type ConnectOptions struct {
	Params map[string]string
}

// Call is one outbound call handed back by Device.Connect.
type Call interface {
	media.StreamSource

	// On registers fn for e. Handlers may run on any goroutine.
	On(e Event, fn func())
	// Parameters returns provider parameters such as CallSid.
	Parameters() map[string]string
	// Disconnect ends the call. It may raise EventDisconnect.
	Disconnect()
}

// Device is the registered voice client.
type Device interface {
	On(e DeviceEvent, fn func(error))
	Register(ctx context.Context) error
	Connect(ctx context.Context, opts ConnectOptions) (Call, error)
	Unregister() error
	Destroy()
}

// DeviceFactory builds a Device from an access token.
type DeviceFactory func(token string) (Device, error)
