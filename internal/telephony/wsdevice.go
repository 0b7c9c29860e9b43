package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/calldesk/internal/media"
)

// WSDevice is a Device backed by a browser page that hosts the provider's
// voice SDK. The page connects to ServeHTTP, receives commands as JSON text
// frames and reports events back; binary frames carry the remote audio of the
// announced call as little-endian 16-bit mono PCM.
//
// Only one page is attached at a time; a new connection replaces the old one.
type WSDevice struct {
	logger         *slog.Logger
	allowedOrigin  string
	isDev          bool
	streamCapacity int

	mu         sync.Mutex
	token      string
	wantReg    bool
	registered bool
	destroyed  bool
	conn       *websocket.Conn
	handlers   map[DeviceEvent][]func(error)
	calls      map[string]*wsCall
	audioCall  string
}

// NewWSDevice returns a device waiting for its page to connect.
func NewWSDevice(allowedOrigin string, isDev bool, logger *slog.Logger) *WSDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDevice{
		logger:         logger,
		allowedOrigin:  allowedOrigin,
		isDev:          isDev,
		streamCapacity: 4096,
		handlers:       make(map[DeviceEvent][]func(error)),
		calls:          make(map[string]*wsCall),
	}
}

// Factory returns a DeviceFactory that hands out this device with token set.
func (d *WSDevice) Factory() DeviceFactory {
	return func(token string) (Device, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.destroyed {
			return nil, ErrClosed
		}
		d.token = token
		return d, nil
	}
}

// shimMessage is the JSON envelope in both directions.
type shimMessage struct {
	Type       string            `json:"type"`
	Token      string            `json:"token,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
	Event      Event             `json:"event,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	StreamID   string            `json:"stream_id,omitempty"`
	SampleRate int               `json:"sample_rate,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// On implements Device.
func (d *WSDevice) On(e DeviceEvent, fn func(error)) {
	d.mu.Lock()
	d.handlers[e] = append(d.handlers[e], fn)
	d.mu.Unlock()
}

// Register implements Device. Registration completes when the page reports
// it, which may be after Register returns.
func (d *WSDevice) Register(ctx context.Context) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.wantReg = true
	conn, token := d.conn, d.token
	d.mu.Unlock()

	if conn == nil {
		d.logger.Info("Voice device page not connected yet, registration deferred")
		return nil
	}
	return d.send(ctx, conn, shimMessage{Type: "register", Token: token})
}

// Connect implements Device.
func (d *WSDevice) Connect(ctx context.Context, opts ConnectOptions) (Call, error) {
	d.mu.Lock()
	conn := d.conn
	if d.destroyed || conn == nil || !d.registered {
		d.mu.Unlock()
		return nil, ErrDeviceOffline
	}
	c := newWSCall(uuid.NewString(), d, opts.Params)
	d.calls[c.id] = c
	d.mu.Unlock()

	if err := d.send(ctx, conn, shimMessage{Type: "connect", CallID: c.id, Params: opts.Params}); err != nil {
		d.dropCall(c.id)
		return nil, err
	}
	return c, nil
}

// Unregister implements Device.
func (d *WSDevice) Unregister() error {
	d.mu.Lock()
	d.wantReg = false
	conn := d.conn
	wasRegistered := d.registered
	d.registered = false
	d.mu.Unlock()

	if wasRegistered {
		d.fire(DeviceUnregistered, nil)
	}
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.send(ctx, conn, shimMessage{Type: "unregister"})
}

// Destroy implements Device.
func (d *WSDevice) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	conn := d.conn
	d.conn = nil
	calls := d.calls
	d.calls = make(map[string]*wsCall)
	d.mu.Unlock()

	for _, c := range calls {
		c.endStream()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "device destroyed")
	}
}

// ServeHTTP accepts the device page connection.
func (d *WSDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !d.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	d.mu.Lock()
	destroyed := d.destroyed
	d.mu.Unlock()
	if destroyed {
		http.Error(w, "device destroyed", http.StatusGone)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		d.logger.Error("Failed to accept device websocket", "error", err)
		return
	}
	ws.SetReadLimit(1 << 20)

	d.mu.Lock()
	old := d.conn
	d.conn = ws
	wantReg, token := d.wantReg, d.token
	d.mu.Unlock()
	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "device page replaced")
	}
	d.logger.Info("Voice device page connected", "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if wantReg {
		if err := d.send(ctx, ws, shimMessage{Type: "register", Token: token}); err != nil {
			d.logger.Warn("Failed to send register to device page", "error", err)
		}
	}

	d.readLoop(ctx, ws)
	d.detach(ws)
}

func (d *WSDevice) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				d.logger.Debug("Device page closed connection")
			} else if ctx.Err() == nil {
				d.logger.Warn("Device websocket read error", "error", err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			d.writeAudio(data)
			continue
		}

		var msg shimMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Warn("Malformed device message", "error", err)
			continue
		}
		d.dispatch(msg)
	}
}

func (d *WSDevice) dispatch(msg shimMessage) {
	switch msg.Type {
	case "registered":
		d.mu.Lock()
		changed := !d.registered
		d.registered = true
		d.mu.Unlock()
		if changed {
			d.fire(DeviceRegistered, nil)
		}
	case "error":
		d.fire(DeviceError, fmt.Errorf("device page: %s", msg.Message))
	case "stream":
		c := d.lookup(msg.CallID)
		if c == nil {
			return
		}
		c.attachStream(media.NewPCMStream(msg.StreamID, msg.SampleRate, d.streamCapacity))
		d.mu.Lock()
		d.audioCall = msg.CallID
		d.mu.Unlock()
	case "event":
		c := d.lookup(msg.CallID)
		if c == nil {
			d.logger.Debug("Event for unknown call", "call_id", msg.CallID, "event", msg.Event)
			return
		}
		c.mergeParams(msg.Params)
		if msg.Event.Terminal() {
			d.dropCall(msg.CallID)
			c.endStream()
		}
		c.dispatch(msg.Event)
	case "pong":
	default:
		d.logger.Debug("Unknown device message", "type", msg.Type)
	}
}

// detach forgets ws if it is still the attached page. Calls cannot outlive
// the page that carries their media, so they are reported disconnected.
func (d *WSDevice) detach(ws *websocket.Conn) {
	d.mu.Lock()
	if d.conn != ws {
		d.mu.Unlock()
		return
	}
	d.conn = nil
	wasRegistered := d.registered
	d.registered = false
	calls := d.calls
	d.calls = make(map[string]*wsCall)
	d.mu.Unlock()

	d.logger.Info("Voice device page disconnected", "live_calls", len(calls))
	for _, c := range calls {
		c.endStream()
		c.dispatch(EventDisconnect)
	}
	if wasRegistered {
		d.fire(DeviceUnregistered, nil)
	}
}

func (d *WSDevice) writeAudio(frame []byte) {
	d.mu.Lock()
	c := d.calls[d.audioCall]
	d.mu.Unlock()
	if c == nil {
		return
	}
	if s := c.pcm(); s != nil {
		s.WritePCM16(frame)
	}
}

func (d *WSDevice) fire(e DeviceEvent, err error) {
	d.mu.Lock()
	fns := append([]func(error){}, d.handlers[e]...)
	d.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (d *WSDevice) lookup(id string) *wsCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

func (d *WSDevice) dropCall(id string) {
	d.mu.Lock()
	delete(d.calls, id)
	if d.audioCall == id {
		d.audioCall = ""
	}
	d.mu.Unlock()
}

func (d *WSDevice) send(ctx context.Context, ws *websocket.Conn, msg shimMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode device message: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write device message: %w", err)
	}
	return nil
}

func (d *WSDevice) checkOrigin(r *http.Request) bool {
	if d.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || d.allowedOrigin == "*" || origin == d.allowedOrigin {
		return true
	}
	d.logger.Warn("Device websocket origin rejected", "origin", origin, "allowed", d.allowedOrigin)
	return false
}

// wsCall is a Call carried by a WSDevice. Events raised before a handler is
// attached are queued and replayed by On.
type wsCall struct {
	id     string
	device *WSDevice

	mu       sync.Mutex
	params   map[string]string
	handlers map[Event][]func()
	pending  []Event
	stream   *media.PCMStream
	ended    bool
}

func newWSCall(id string, d *WSDevice, params map[string]string) *wsCall {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &wsCall{
		id:       id,
		device:   d,
		params:   p,
		handlers: make(map[Event][]func()),
	}
}

// On implements Call.
func (c *wsCall) On(e Event, fn func()) {
	c.mu.Lock()
	c.handlers[e] = append(c.handlers[e], fn)
	var replay int
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p == e {
			replay++
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept
	c.mu.Unlock()

	for i := 0; i < replay; i++ {
		fn()
	}
}

// Parameters implements Call.
func (c *wsCall) Parameters() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// RemoteStream implements media.StreamSource.
func (c *wsCall) RemoteStream() media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	return c.stream
}

// Disconnect implements Call.
func (c *wsCall) Disconnect() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	c.endStream()
	c.device.dropCall(c.id)

	c.device.mu.Lock()
	conn := c.device.conn
	c.device.mu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.device.send(ctx, conn, shimMessage{Type: "disconnect", CallID: c.id}); err != nil && !errors.Is(err, context.Canceled) {
		c.device.logger.Warn("Failed to send disconnect to device page", "call_id", c.id, "error", err)
	}
}

func (c *wsCall) dispatch(e Event) {
	c.mu.Lock()
	if e.Terminal() {
		c.ended = true
	}
	fns := append([]func(){}, c.handlers[e]...)
	if len(fns) == 0 {
		c.pending = append(c.pending, e)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *wsCall) mergeParams(params map[string]string) {
	if len(params) == 0 {
		return
	}
	c.mu.Lock()
	for k, v := range params {
		c.params[k] = v
	}
	c.mu.Unlock()
}

func (c *wsCall) attachStream(s *media.PCMStream) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *wsCall) pcm() *media.PCMStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *wsCall) endStream() {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s != nil {
		s.End()
	}
}
