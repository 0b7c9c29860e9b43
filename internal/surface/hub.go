// Package surface serves the UI surfaces (popup, mini-player, notes panel)
// over websockets and fans out call state and visualizer frames to them.
package surface

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/calldesk/internal/call"
	"github.com/ashureev/calldesk/internal/layout"
	"github.com/ashureev/calldesk/internal/media"
	"github.com/ashureev/calldesk/internal/telephony"
	"github.com/ashureev/calldesk/internal/visualizer"
)

// Dialer is the slice of the telephony bridge surfaces drive.
type Dialer interface {
	MakeCall(ctx context.Context, phone string) error
	HangUp()
	Status() telephony.Status
}

// Recorder receives surface telemetry. metrics.Metrics implements it.
type Recorder interface {
	SurfaceConnected(delta int)
	SurfaceMessageDropped()
}

// Config wires a Hub.
type Config struct {
	Orchestrator  *call.Orchestrator
	Dialer        Dialer
	Monitor       *media.Monitor
	Visualizer    *visualizer.Visualizer
	Draggable     *layout.Draggable
	Recorder      Recorder
	AllowedOrigin string
	IsDev         bool
	Logger        *slog.Logger
}

// Hub owns every connected surface.
type Hub struct {
	orch    *call.Orchestrator
	dialer  Dialer
	monitor *media.Monitor
	viz     *visualizer.Visualizer
	drag    *layout.Draggable
	rec     Recorder
	logger  *slog.Logger

	allowedOrigin string
	isDev         bool

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	clients       map[string]*client
	releaseHangUp func()

	snapMu      sync.Mutex
	lastVersion uint64

	unsubscribe func()
	calls       sync.WaitGroup
}

// NewHub wires the hub into the orchestrator, stream monitor, visualizer
// and draggable controller.
func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		orch:          cfg.Orchestrator,
		dialer:        cfg.Dialer,
		monitor:       cfg.Monitor,
		viz:           cfg.Visualizer,
		drag:          cfg.Draggable,
		rec:           cfg.Recorder,
		logger:        logger,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		ctx:           ctx,
		cancel:        cancel,
		clients:       make(map[string]*client),
	}

	h.unsubscribe = h.orch.Subscribe(h.onSnapshot)
	if h.monitor != nil && h.viz != nil {
		h.monitor.OnChange(h.viz.SetStream)
	}
	if h.viz != nil {
		h.viz.OnFrame(h.onFrame)
	}
	if h.drag != nil {
		h.drag.OnCornerChange(h.orch.SetCorner)
		h.drag.OnDraggingChange(h.orch.SetDragging)
	}
	return h
}

// Count returns the number of connected surfaces.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DeviceChanged pushes the device status to every surface.
func (h *Hub) DeviceChanged() {
	st := h.dialer.Status()
	h.broadcast(outbound{Type: MsgDevice, Device: &st})
}

// Close disconnects every surface and detaches the hub.
func (h *Hub) Close() {
	h.cancel()
	h.unsubscribe()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	release := h.releaseHangUp
	h.releaseHangUp = nil
	h.mu.Unlock()

	if release != nil {
		release()
	}
	for _, c := range clients {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		c.close()
	}
	h.calls.Wait()
}

// onSnapshot keeps the visualizer in step with the call and forwards the
// snapshot. Versions that arrive late are dropped.
func (h *Hub) onSnapshot(s call.Snapshot) {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	if s.Version <= h.lastVersion {
		return
	}
	h.lastVersion = s.Version

	if h.viz != nil {
		h.viz.SetActive(s.VisualizerActive())
	}
	h.broadcast(outbound{Type: MsgSnapshot, Snapshot: &s})
}

func (h *Hub) onFrame(f visualizer.Frame) {
	h.broadcast(outbound{Type: MsgFrame, Frame: &f})
}

func (h *Hub) broadcast(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.send(msg)
	}
}

func (h *Hub) layout() *Layout {
	return &Layout{
		Widget: h.drag.Snapshot(),
		Style:  h.drag.Style(),
		Notes:  h.drag.NotesPosition(),
	}
}

// ServeHTTP accepts a surface connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept surface websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "surface closed"); closeErr != nil {
			h.logger.Debug("Failed to close surface websocket", "error", closeErr)
		}
	}()

	c := newClient(uuid.NewString(), ws, h.logger, h.dropped)
	h.register(c)
	defer h.unregister(c)
	h.logger.Info("Surface connected", "surface_id", c.id, "ip", r.RemoteAddr)

	snap := h.orch.Snapshot()
	st := h.dialer.Status()
	c.send(outbound{Type: MsgSnapshot, Snapshot: &snap})
	c.send(outbound{Type: MsgDevice, Device: &st})
	if h.drag != nil {
		c.send(outbound{Type: MsgLayout, Layout: h.layout()})
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-c.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, c)
	h.logger.Info("Surface disconnected", "surface_id", c.id)
}

// register adds c and, for the first surface, installs the hang-up hook.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	if h.releaseHangUp == nil {
		h.releaseHangUp = h.orch.RegisterHangUp(h.dialer.HangUp)
	}
	h.mu.Unlock()
	if h.rec != nil {
		h.rec.SurfaceConnected(1)
	}
}

// unregister removes c and releases the hang-up hook with the last surface.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	var release func()
	if len(h.clients) == 0 {
		release = h.releaseHangUp
		h.releaseHangUp = nil
	}
	h.mu.Unlock()

	if release != nil {
		release()
	}
	c.close()
	if ok && h.rec != nil {
		h.rec.SurfaceConnected(-1)
	}
}

func (h *Hub) dropped() {
	if h.rec != nil {
		h.rec.SurfaceMessageDropped()
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Surface closed connection", "surface_id", c.id)
			} else if ctx.Err() == nil {
				h.logger.Warn("Surface websocket read error", "surface_id", c.id, "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Malformed surface message", "surface_id", c.id, "error", err)
			continue
		}
		h.handle(c, msg)
	}
}

//nolint:gocyclo // One case per surface action.
func (h *Hub) handle(c *client, msg inbound) {
	switch msg.Type {
	case MsgOpenPopup:
		h.notify(c, h.orch.OpenPopup(msg.PhoneNumber))
	case MsgOpenMiniPlayer:
		h.notify(c, h.orch.OpenMiniPlayer(msg.PhoneNumber, msg.ContactID, msg.Notes))
	case MsgClosePopup:
		h.orch.ClosePopup()
	case MsgCloseMiniPlayer:
		h.notify(c, h.orch.CloseMiniPlayer())
	case MsgReopenPopup:
		h.orch.ReopenPopup()
	case MsgCall:
		h.placeCall(c, msg.PhoneNumber)
	case MsgHangUp:
		h.orch.HangUp()
	case MsgUpdateNotes:
		h.orch.UpdateNotes(msg.Notes)
	case MsgBounceNotes:
		h.orch.TriggerNotesBounce()
	case MsgDragStart:
		if h.drag == nil || msg.Pointer == nil || msg.Rect == nil {
			return
		}
		h.drag.DragStart(*msg.Pointer, *msg.Rect)
		h.broadcast(outbound{Type: MsgLayout, Layout: h.layout()})
	case MsgDragMove:
		if h.drag == nil || msg.Pointer == nil {
			return
		}
		if h.drag.DragMove(*msg.Pointer) {
			h.broadcast(outbound{Type: MsgLayout, Layout: h.layout()})
		}
	case MsgDragEnd:
		if h.drag == nil {
			return
		}
		if _, ok := h.drag.DragEnd(); ok {
			h.broadcast(outbound{Type: MsgLayout, Layout: h.layout()})
		}
	case MsgResize:
		if h.drag == nil {
			return
		}
		h.drag.Resize(layout.Viewport{Width: msg.Width, Height: msg.Height})
		h.broadcast(outbound{Type: MsgLayout, Layout: h.layout()})
	case MsgUnload:
		if h.orch.Snapshot().Session != nil {
			h.logger.Info("Surface unloading with a session, hanging up", "surface_id", c.id)
			h.orch.HangUp()
		}
	case MsgPing:
		c.send(outbound{Type: MsgPong})
	default:
		h.logger.Debug("Unknown surface message", "surface_id", c.id, "type", msg.Type)
	}
}

// placeCall dials off the read loop so the surface can still hang up while
// the connect is in flight.
func (h *Hub) placeCall(c *client, phone string) {
	if phone == "" {
		if s := h.orch.Snapshot(); s.Session != nil {
			phone = s.Session.PhoneNumber
		}
	}
	if phone == "" {
		h.notify(c, call.ErrNoSession)
		return
	}

	h.calls.Add(1)
	go func() {
		defer h.calls.Done()
		err := h.dialer.MakeCall(h.ctx, phone)
		if errors.Is(err, telephony.ErrDialAbandoned) {
			return
		}
		h.notify(c, err)
	}()
}

// notify sends err to the originating surface as a notice.
func (h *Hub) notify(c *client, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if errors.Is(err, telephony.ErrCallInProgress) {
		msg = call.ErrCallInProgress.Error()
	}
	c.send(outbound{Type: MsgNotice, Message: msg})
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("Surface websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
