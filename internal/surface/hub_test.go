package surface

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/calldesk/internal/call"
	"github.com/ashureev/calldesk/internal/domain"
	"github.com/ashureev/calldesk/internal/layout"
	"github.com/ashureev/calldesk/internal/media"
	"github.com/ashureev/calldesk/internal/telephony"
	"github.com/ashureev/calldesk/internal/visualizer"
)

type fakeDialer struct {
	mu      sync.Mutex
	orch    *call.Orchestrator
	dialed  []string
	hangUps int
	err     error
}

func (d *fakeDialer) MakeCall(_ context.Context, phone string) error {
	d.mu.Lock()
	d.dialed = append(d.dialed, phone)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.orch.StartCall()
}

func (d *fakeDialer) HangUp() {
	d.mu.Lock()
	d.hangUps++
	d.mu.Unlock()
	d.orch.EndCall()
}

func (d *fakeDialer) Status() telephony.Status {
	return telephony.Status{Initialized: true, Identity: "user_test"}
}

func (d *fakeDialer) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed), d.hangUps
}

type hubHarness struct {
	orch   *call.Orchestrator
	dialer *fakeDialer
	drag   *layout.Draggable
	hub    *Hub
	srv    *httptest.Server
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	orch := call.New()
	d := &fakeDialer{orch: orch}
	vp := layout.Viewport{Width: 1280, Height: 800}
	drag := layout.NewDraggable(layout.BottomRight, vp)
	viz := visualizer.New(visualizer.WithFPS(30))
	t.Cleanup(viz.Close)

	hub := NewHub(Config{
		Orchestrator: orch,
		Dialer:       d,
		Monitor:      media.NewMonitor(nil, nil),
		Visualizer:   viz,
		Draggable:    drag,
		IsDev:        true,
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &hubHarness{orch: orch, dialer: d, drag: drag, hub: hub, srv: srv}
}

func (h *hubHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg inbound) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// expect reads until a message of type typ satisfying match arrives.
func expect(t *testing.T, ws *websocket.Conn, typ string, match func(outbound) bool) outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var msg outbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

// expectAll reads until every message type in want has matched once, in any
// order.
func expectAll(t *testing.T, ws *websocket.Conn, want map[string]func(outbound) bool) map[string]outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(map[string]outbound, len(want))
	for len(got) < len(want) {
		var msg outbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			t.Fatalf("waiting for %d messages, got %d: %v", len(want), len(got), err)
		}
		match, ok := want[msg.Type]
		if _, seen := got[msg.Type]; !ok || seen {
			continue
		}
		if match == nil || match(msg) {
			got[msg.Type] = msg
		}
	}
	return got
}

func TestHubInitialState(t *testing.T) {
	h := newHubHarness(t)
	ws := h.dial(t)

	snap := expect(t, ws, MsgSnapshot, nil)
	if snap.Snapshot == nil || snap.Snapshot.Session != nil {
		t.Fatalf("initial snapshot = %+v", snap.Snapshot)
	}
	dev := expect(t, ws, MsgDevice, nil)
	if dev.Device == nil || !dev.Device.Initialized {
		t.Fatalf("device = %+v", dev.Device)
	}
	lay := expect(t, ws, MsgLayout, nil)
	if lay.Layout.Widget.Corner != layout.BottomRight || lay.Layout.Style.Bottom == nil {
		t.Fatalf("layout = %+v", lay.Layout)
	}
}

func TestHubSessionFlow(t *testing.T) {
	h := newHubHarness(t)
	ws := h.dial(t)
	expect(t, ws, MsgLayout, nil)

	send(t, ws, inbound{Type: MsgOpenMiniPlayer, PhoneNumber: "+15551234567", ContactID: "c1", Notes: "hi"})
	expect(t, ws, MsgSnapshot, func(m outbound) bool {
		s := m.Snapshot
		return s.Session != nil && s.MiniPlayerVisible && s.ContactID == "c1"
	})

	send(t, ws, inbound{Type: MsgCall})
	expect(t, ws, MsgSnapshot, func(m outbound) bool {
		return m.Snapshot.State() == domain.StateConnecting
	})
	if n, _ := h.dialer.counts(); n != 1 {
		t.Fatalf("dials = %d", n)
	}

	send(t, ws, inbound{Type: MsgOpenPopup, PhoneNumber: "+15559999999"})
	notice := expect(t, ws, MsgNotice, nil)
	if notice.Message != call.ErrCallInProgress.Error() {
		t.Fatalf("notice = %q", notice.Message)
	}

	send(t, ws, inbound{Type: MsgHangUp})
	expect(t, ws, MsgSnapshot, func(m outbound) bool { return m.Snapshot.Session == nil })
	if _, hangUps := h.dialer.counts(); hangUps != 1 {
		t.Fatalf("hang-ups = %d", hangUps)
	}
}

func TestHubDialGuardNotice(t *testing.T) {
	h := newHubHarness(t)
	h.dialer.err = telephony.ErrCallInProgress
	ws := h.dial(t)

	send(t, ws, inbound{Type: MsgOpenPopup, PhoneNumber: "+15551234567"})
	send(t, ws, inbound{Type: MsgCall})
	notice := expect(t, ws, MsgNotice, nil)
	if notice.Message != call.ErrCallInProgress.Error() {
		t.Fatalf("notice = %q", notice.Message)
	}
}

func TestHubCallWithoutSession(t *testing.T) {
	h := newHubHarness(t)
	ws := h.dial(t)
	send(t, ws, inbound{Type: MsgCall})
	if got := expect(t, ws, MsgNotice, nil).Message; got != call.ErrNoSession.Error() {
		t.Fatalf("notice = %q", got)
	}
}

func TestHubUnloadHangsUp(t *testing.T) {
	h := newHubHarness(t)
	ws := h.dial(t)

	send(t, ws, inbound{Type: MsgUnload})
	send(t, ws, inbound{Type: MsgPing})
	expect(t, ws, MsgPong, nil)
	if _, hangUps := h.dialer.counts(); hangUps != 0 {
		t.Fatal("unload without a session hung up")
	}

	send(t, ws, inbound{Type: MsgOpenPopup, PhoneNumber: "+15551234567"})
	send(t, ws, inbound{Type: MsgUnload})
	expect(t, ws, MsgSnapshot, func(m outbound) bool { return m.Snapshot.Session == nil && m.Snapshot.Version > 1 })
	if _, hangUps := h.dialer.counts(); hangUps != 1 {
		t.Fatalf("hang-ups = %d", hangUps)
	}
}

func TestHubDragSnapsCorner(t *testing.T) {
	h := newHubHarness(t)
	ws := h.dial(t)
	expect(t, ws, MsgLayout, nil)

	start := h.drag.Snapshot().Position
	send(t, ws, inbound{Type: MsgDragStart, Pointer: &layout.Position{X: start.X + 10, Y: start.Y + 10}, Rect: &start})
	expect(t, ws, MsgLayout, func(m outbound) bool { return m.Layout.Widget.Dragging })

	send(t, ws, inbound{Type: MsgDragMove, Pointer: &layout.Position{X: 100, Y: 100}})
	send(t, ws, inbound{Type: MsgDragEnd})
	// The corner reaches the orchestrator before the hub sends the layout.
	got := expectAll(t, ws, map[string]func(outbound) bool{
		MsgLayout:   func(m outbound) bool { return !m.Layout.Widget.Dragging },
		MsgSnapshot: func(m outbound) bool { return m.Snapshot.Corner == layout.TopLeft },
	})
	if lay := got[MsgLayout].Layout; lay.Widget.Corner != layout.TopLeft || lay.Style.Top == nil {
		t.Fatalf("layout after drop = %+v", lay)
	}

	send(t, ws, inbound{Type: MsgResize, Width: 800, Height: 600})
	lay := expect(t, ws, MsgLayout, nil)
	if lay.Layout.Widget.Position != layout.CornerPosition(layout.TopLeft, 800, 600) {
		t.Fatalf("position after resize = %+v", lay.Layout.Widget.Position)
	}
}

func TestHubReleasesHangUpWithLastSurface(t *testing.T) {
	h := newHubHarness(t)
	a := h.dial(t)
	b := h.dial(t)
	expect(t, a, MsgLayout, nil)
	expect(t, b, MsgLayout, nil)

	_ = b.Close(websocket.StatusNormalClosure, "")
	waitCount(t, h.hub, 1)
	if !h.orch.HangUp() {
		t.Fatal("hang-up released while a surface is still connected")
	}

	_ = a.Close(websocket.StatusNormalClosure, "")
	waitCount(t, h.hub, 0)
	if h.orch.HangUp() {
		t.Fatal("hang-up still registered without surfaces")
	}
}

func TestHubBroadcastsFrames(t *testing.T) {
	h := newHubHarness(t)
	ws := h.dial(t)

	_ = h.orch.OpenPopup("+15551234567")
	_ = h.orch.StartCall()
	h.orch.SetState(domain.StateInProgress)
	f := expect(t, ws, MsgFrame, func(m outbound) bool { return m.Frame.Active })
	if len(f.Frame.Bars) != visualizer.BarCount {
		t.Fatalf("bars = %d", len(f.Frame.Bars))
	}

	h.orch.EndCall()
	expect(t, ws, MsgFrame, func(m outbound) bool { return !m.Frame.Active })
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("surface count = %d, want %d", h.Count(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestClientDropsOldest(t *testing.T) {
	drops := 0
	c := &client{
		id:     "s1",
		logger: slog.Default(),
		onDrop: func() { drops++ },
		outbox: make(chan outbound, 2),
		ctx:    context.Background(),
	}
	c.send(outbound{Type: "a"})
	c.send(outbound{Type: "b"})
	c.send(outbound{Type: "c"})

	if drops != 1 {
		t.Fatalf("drops = %d", drops)
	}
	if got := (<-c.outbox).Type; got != "b" {
		t.Fatalf("first queued = %q, want b", got)
	}
	if got := (<-c.outbox).Type; got != "c" {
		t.Fatalf("second queued = %q, want c", got)
	}
}
