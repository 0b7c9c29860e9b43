package telephony

import (
	"context"
	"encoding/binary"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/calldesk/internal/media"
)

func dialShim(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readShim(t *testing.T, ws *websocket.Conn) shimMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg shimMessage
	if err := wsjson.Read(ctx, ws, &msg); err != nil {
		t.Fatalf("read shim message: %v", err)
	}
	return msg
}

func writeShim(t *testing.T, ws *websocket.Conn, msg shimMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		t.Fatalf("write shim message: %v", err)
	}
}

func registeredDevice(t *testing.T) (*WSDevice, *websocket.Conn) {
	t.Helper()
	dev := NewWSDevice("*", true, nil)
	srv := httptest.NewServer(dev)
	t.Cleanup(srv.Close)

	d, err := dev.Factory()("tok-1")
	if err != nil {
		t.Fatal(err)
	}
	registered := make(chan struct{}, 1)
	d.On(DeviceRegistered, func(error) { registered <- struct{}{} })
	if err := d.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	ws := dialShim(t, srv)
	if msg := readShim(t, ws); msg.Type != "register" || msg.Token != "tok-1" {
		t.Fatalf("first message = %+v, want register with token", msg)
	}
	writeShim(t, ws, shimMessage{Type: "registered"})
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("registered handler not called")
	}
	return dev, ws
}

func TestWSDeviceConnectBeforeRegister(t *testing.T) {
	dev := NewWSDevice("*", true, nil)
	if _, err := dev.Connect(context.Background(), ConnectOptions{}); err != ErrDeviceOffline {
		t.Fatalf("Connect() error = %v, want ErrDeviceOffline", err)
	}
}

func TestWSDeviceCallFlow(t *testing.T) {
	dev, ws := registeredDevice(t)

	c, err := dev.Connect(context.Background(), ConnectOptions{Params: map[string]string{"To": "+15551234567"}})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	msg := readShim(t, ws)
	if msg.Type != "connect" || msg.Params["To"] != "+15551234567" || msg.CallID == "" {
		t.Fatalf("connect message = %+v", msg)
	}
	callID := msg.CallID

	var mu sync.Mutex
	var events []Event
	record := func(e Event) func() {
		return func() {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}

	// Ringing arrives before any handler is attached and must be replayed.
	writeShim(t, ws, shimMessage{Type: "event", CallID: callID, Event: EventRinging})
	waitFor(t, "queued ringing", func() bool {
		wc := c.(*wsCall)
		wc.mu.Lock()
		defer wc.mu.Unlock()
		return len(wc.pending) == 1
	})
	for _, e := range handledEvents {
		c.On(e, record(e))
	}

	writeShim(t, ws, shimMessage{Type: "stream", CallID: callID, StreamID: "st-1", SampleRate: 8000})
	writeShim(t, ws, shimMessage{Type: "event", CallID: callID, Event: EventAccept, Params: map[string]string{ParamCallSID: "CA77"}})
	waitFor(t, "accept", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})

	if got := c.Parameters()[ParamCallSID]; got != "CA77" {
		t.Fatalf("CallSid = %q", got)
	}
	s := c.RemoteStream()
	if !media.HasLiveAudio(s) {
		t.Fatal("remote stream not live")
	}

	frame := make([]byte, 8)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(frame[2*i:], uint16(int16(16384)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.Fatal(err)
	}
	buf := make([]float64, 4)
	waitFor(t, "audio samples", func() bool { return s.Samples(buf) == 4 })
	if buf[0] != 0.5 {
		t.Fatalf("sample = %v, want 0.5", buf[0])
	}

	c.Disconnect()
	if msg := readShim(t, ws); msg.Type != "disconnect" || msg.CallID != callID {
		t.Fatalf("disconnect message = %+v", msg)
	}
	if media.HasLiveAudio(s) {
		t.Fatal("stream still live after disconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if events[0] != EventRinging || events[1] != EventAccept {
		t.Fatalf("events = %v", events)
	}
}

func TestWSDevicePageLossDisconnectsCalls(t *testing.T) {
	dev, ws := registeredDevice(t)
	unregistered := make(chan struct{}, 1)
	dev.On(DeviceUnregistered, func(error) { unregistered <- struct{}{} })

	c, err := dev.Connect(context.Background(), ConnectOptions{Params: map[string]string{"To": "+1"}})
	if err != nil {
		t.Fatal(err)
	}
	readShim(t, ws)
	disconnected := make(chan struct{}, 1)
	c.On(EventDisconnect, func() { disconnected <- struct{}{} })

	_ = ws.Close(websocket.StatusGoingAway, "tab closed")

	for _, ch := range []chan struct{}{disconnected, unregistered} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("page loss not reported")
		}
	}
}

func TestWSDeviceErrorEvent(t *testing.T) {
	dev, ws := registeredDevice(t)
	got := make(chan error, 1)
	dev.On(DeviceError, func(err error) { got <- err })

	writeShim(t, ws, shimMessage{Type: "error", Message: "mic denied"})
	select {
	case err := <-got:
		if err == nil || !strings.Contains(err.Error(), "mic denied") {
			t.Fatalf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not called")
	}
}

func TestWSDeviceRejectsOrigin(t *testing.T) {
	dev := NewWSDevice("https://desk.example.com", false, nil)
	r := httptest.NewRequest("GET", "/ws/device", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	dev.ServeHTTP(w, r)
	if w.Code != 403 {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestWSDeviceDestroy(t *testing.T) {
	dev := NewWSDevice("*", true, nil)
	dev.Destroy()
	dev.Destroy()
	if _, err := dev.Factory()("t"); err != ErrClosed {
		t.Fatalf("Factory() after Destroy error = %v", err)
	}
	if err := dev.Register(context.Background()); err != ErrClosed {
		t.Fatalf("Register() after Destroy error = %v", err)
	}
}
