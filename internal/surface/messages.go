package surface

import (
	"github.com/ashureev/calldesk/internal/call"
	"github.com/ashureev/calldesk/internal/layout"
	"github.com/ashureev/calldesk/internal/telephony"
	"github.com/ashureev/calldesk/internal/visualizer"
)

// Inbound message types.
const (
	MsgOpenPopup       = "open_popup"
	MsgOpenMiniPlayer  = "open_mini_player"
	MsgClosePopup      = "close_popup"
	MsgCloseMiniPlayer = "close_mini_player"
	MsgReopenPopup     = "reopen_popup"
	MsgCall            = "call"
	MsgHangUp          = "hang_up"
	MsgUpdateNotes     = "update_notes"
	MsgBounceNotes     = "bounce_notes"
	MsgDragStart       = "drag_start"
	MsgDragMove        = "drag_move"
	MsgDragEnd         = "drag_end"
	MsgResize          = "resize"
	MsgUnload          = "unload"
	MsgPing            = "ping"
)

// Outbound message types.
const (
	MsgSnapshot = "snapshot"
	MsgFrame    = "frame"
	MsgLayout   = "layout"
	MsgDevice   = "device"
	MsgNotice   = "notice"
	MsgPong     = "pong"
)

// inbound is a message from a surface.
type inbound struct {
	Type        string           `json:"type"`
	PhoneNumber string           `json:"phone_number,omitempty"`
	ContactID   string           `json:"contact_id,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	Pointer     *layout.Position `json:"pointer,omitempty"`
	Rect        *layout.Position `json:"rect,omitempty"`
	Width       float64          `json:"width,omitempty"`
	Height      float64          `json:"height,omitempty"`
}

// Layout is the mini-player placement pushed after drags and resizes.
type Layout struct {
	Widget layout.WidgetPosition `json:"widget"`
	Style  layout.Style          `json:"style"`
	Notes  layout.Position       `json:"notes"`
}

// outbound is a message to a surface.
type outbound struct {
	Type     string            `json:"type"`
	Snapshot *call.Snapshot    `json:"snapshot,omitempty"`
	Frame    *visualizer.Frame `json:"frame,omitempty"`
	Layout   *Layout           `json:"layout,omitempty"`
	Device   *telephony.Status `json:"device,omitempty"`
	Message  string            `json:"message,omitempty"`
}
