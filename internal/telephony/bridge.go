package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ashureev/calldesk/internal/domain"
	"github.com/ashureev/calldesk/internal/identity"
	"github.com/ashureev/calldesk/internal/media"
)

// Session is the slice of the call orchestrator the bridge drives.
type Session interface {
	IsActiveOrDialing() bool
	StartCall() error
	SetState(state domain.CallState)
	MarkAnswered()
	SetCallSID(sid string)
	StartRecording()
	StopRecording()
	Tick()
	EndCall()
}

// Recorder receives call telemetry. metrics.Metrics implements it.
type Recorder interface {
	RecordCallStart()
	RecordCallEnd(outcome string, talk time.Duration)
	RecordDeviceRegistered(registered bool)
	RecordBridgeError(stage string)
}

// Config tunes the bridge timings.
type Config struct {
	RecordingStartDelay time.Duration // after the stream capture settles
	TickInterval        time.Duration // duration display refresh
	RegisterTimeout     time.Duration
	InitBackoff         time.Duration // first wait between failed Start attempts
	InitBackoffMax      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecordingStartDelay < 0 {
		c.RecordingStartDelay = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = 10 * time.Second
	}
	if c.InitBackoff <= 0 {
		c.InitBackoff = 500 * time.Millisecond
	}
	if c.InitBackoffMax < c.InitBackoff {
		c.InitBackoffMax = 30 * time.Second
	}
	return c
}

// Status is the device state exposed to surfaces.
type Status struct {
	Initialized bool   `json:"initialized"`
	Identity    string `json:"identity,omitempty"`
	Error       string `json:"error,omitempty"`
	OnCall      bool   `json:"on_call"`
}

// Bridge owns the single voice device of the process and translates its call
// events into session transitions.
//
// Every event handler, timer callback, dial step and hang-up runs under
// serial, so session transitions are applied one at a time in arrival order.
type Bridge struct {
	session Session
	tokens  TokenSource
	factory DeviceFactory
	monitor *media.Monitor
	cfg     Config
	logger  *slog.Logger

	mu          sync.Mutex
	device      Device
	initialized bool
	identity    string
	lastErr     error
	closed      bool
	recorder    Recorder
	onReady     func(bool)

	serial        sync.Mutex
	current       Call
	dialGen       uint64
	answeredAt    time.Time
	tickStop      chan struct{}
	recTimer      *time.Timer
	captureCancel context.CancelFunc
}

// NewBridge wires a bridge. Init must be called before MakeCall.
func NewBridge(session Session, tokens TokenSource, factory DeviceFactory, monitor *media.Monitor, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if monitor == nil {
		monitor = media.NewMonitor(nil, logger)
	}
	return &Bridge{
		session: session,
		tokens:  tokens,
		factory: factory,
		monitor: monitor,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// SetRecorder attaches telemetry.
func (b *Bridge) SetRecorder(r Recorder) {
	b.mu.Lock()
	b.recorder = r
	b.mu.Unlock()
}

// OnReadyChange registers a listener for device registration changes.
func (b *Bridge) OnReadyChange(fn func(ready bool)) {
	b.mu.Lock()
	b.onReady = fn
	b.mu.Unlock()
}

// Monitor returns the stream monitor fed by this bridge.
func (b *Bridge) Monitor() *media.Monitor {
	return b.monitor
}

// Init fetches a token, builds the device and registers it. A failure is
// recorded in Status and returned; dialing stays disabled until the device
// reports registered. Init is a no-op once a device exists.
func (b *Bridge) Init(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.device != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	id := identity.NewDeviceIdentity()
	b.logger.Info("Initializing voice device", "identity", id)

	token, err := b.tokens.Token(ctx, id)
	if err != nil {
		err = fmt.Errorf("fetch voice token: %w", err)
		b.recordError("token", err)
		return err
	}

	dev, err := b.factory(token)
	if err != nil {
		err = fmt.Errorf("create voice device: %w", err)
		b.recordError("device", err)
		return err
	}

	dev.On(DeviceRegistered, func(error) { b.setRegistered(true) })
	dev.On(DeviceUnregistered, func(error) { b.setRegistered(false) })
	dev.On(DeviceError, func(err error) {
		if err == nil {
			err = errors.New("unknown device error")
		}
		b.recordError("device", err)
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		dev.Destroy()
		return ErrClosed
	}
	b.device = dev
	b.identity = id
	b.mu.Unlock()

	regCtx, cancel := context.WithTimeout(ctx, b.cfg.RegisterTimeout)
	defer cancel()
	if err := dev.Register(regCtx); err != nil {
		err = fmt.Errorf("register voice device: %w", err)
		b.recordError("register", err)
		return err
	}
	return nil
}

// Start calls Init until a device exists, backing off exponentially between
// failures, and returns once one does or ctx ends. A device that exists but
// failed to register is not rebuilt; it registers when its client connects,
// and that error is returned.
func (b *Bridge) Start(ctx context.Context) error {
	backoff := retry.WithCappedDuration(b.cfg.InitBackoffMax, retry.NewExponential(b.cfg.InitBackoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := b.Init(ctx)
		if err == nil || errors.Is(err, ErrClosed) || b.hasDevice() {
			return err
		}
		b.logger.Warn("Voice device init failed, retrying", "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

func (b *Bridge) hasDevice() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device != nil
}

// Status returns the current device state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	st := Status{
		Initialized: b.initialized,
		Identity:    b.identity,
	}
	if b.lastErr != nil {
		st.Error = b.lastErr.Error()
	}
	b.mu.Unlock()

	b.serial.Lock()
	st.OnCall = b.current != nil
	b.serial.Unlock()
	return st
}

// MakeCall dials phone for the current session.
func (b *Bridge) MakeCall(ctx context.Context, phone string) error {
	b.mu.Lock()
	dev, ready, closed := b.device, b.initialized, b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if dev == nil || !ready {
		return ErrNotInitialized
	}

	b.serial.Lock()
	if b.current != nil || b.session.IsActiveOrDialing() {
		b.serial.Unlock()
		return ErrCallInProgress
	}
	if err := b.session.StartCall(); err != nil {
		b.serial.Unlock()
		return err
	}
	b.dialGen++
	gen := b.dialGen
	b.serial.Unlock()

	b.logger.Info("Placing call", "phone_number", phone)
	call, err := dev.Connect(ctx, ConnectOptions{Params: map[string]string{"To": phone}})

	b.serial.Lock()
	if err != nil {
		err = fmt.Errorf("connect call: %w", err)
		b.recordError("connect", err)
		if gen == b.dialGen {
			b.session.EndCall()
		}
		b.serial.Unlock()
		return err
	}
	if gen != b.dialGen || b.isClosed() {
		b.serial.Unlock()
		b.logger.Info("Dropping call that connected after hang-up", "phone_number", phone)
		call.Disconnect()
		return ErrDialAbandoned
	}
	b.current = call
	b.answeredAt = time.Time{}
	b.serial.Unlock()

	if r := b.getRecorder(); r != nil {
		r.RecordCallStart()
	}

	// Attach outside serial: a client may replay queued events from On.
	b.attach(call)
	return nil
}

// HangUp ends the current call, or the pending dial if the call object has
// not arrived yet, and destroys the session.
func (b *Bridge) HangUp() {
	b.serial.Lock()
	call := b.current
	if call == nil {
		b.dialGen++
		b.session.StopRecording()
		b.monitor.Clear()
		b.session.EndCall()
		b.serial.Unlock()
		return
	}
	b.teardownLocked("hang-up")
	b.serial.Unlock()

	call.Disconnect()
}

// Close disconnects any live call and releases the device. It is safe to call
// more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	dev := b.device
	b.device = nil
	b.initialized = false
	b.mu.Unlock()

	b.serial.Lock()
	call := b.current
	if call != nil {
		b.teardownLocked("shutdown")
	}
	b.dialGen++
	b.serial.Unlock()

	if call != nil {
		call.Disconnect()
	}
	if dev != nil {
		if err := dev.Unregister(); err != nil {
			b.logger.Warn("Failed to unregister voice device", "error", err)
		}
		dev.Destroy()
	}
	b.logger.Info("Telephony bridge closed")
}

func (b *Bridge) attach(call Call) {
	for _, ev := range handledEvents {
		ev := ev
		call.On(ev, func() { b.handle(call, ev) })
	}
}

func (b *Bridge) handle(call Call, ev Event) {
	b.serial.Lock()
	defer b.serial.Unlock()

	if b.current != call {
		b.logger.Debug("Ignoring event for superseded call", "event", ev)
		return
	}
	tr, ok := transitions[ev]
	if !ok {
		return
	}
	b.logger.Info("Call event", "event", ev)
	tr(b, call, ev)
}

// teardownLocked runs every cleanup step before the session is destroyed so
// no reader sees recording or a stream without a session.
func (b *Bridge) teardownLocked(reason string) {
	b.current = nil
	b.stopTickerLocked()
	if b.captureCancel != nil {
		b.captureCancel()
		b.captureCancel = nil
	}
	if b.recTimer != nil {
		b.recTimer.Stop()
		b.recTimer = nil
	}
	b.session.StopRecording()
	b.monitor.Clear()
	b.session.EndCall()

	outcome := string(domain.OutcomeMissed)
	var talk time.Duration
	if !b.answeredAt.IsZero() {
		outcome = string(domain.OutcomeCompleted)
		talk = time.Since(b.answeredAt)
	}
	b.answeredAt = time.Time{}
	if r := b.getRecorder(); r != nil {
		r.RecordCallEnd(outcome, talk)
	}
	b.logger.Info("Call ended", "reason", reason, "outcome", outcome, "talk_seconds", int64(talk/time.Second))
}

func (b *Bridge) startTickerLocked() {
	b.stopTickerLocked()
	stop := make(chan struct{})
	b.tickStop = stop
	ticker := time.NewTicker(b.cfg.TickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.session.Tick()
			}
		}
	}()
}

func (b *Bridge) stopTickerLocked() {
	if b.tickStop != nil {
		close(b.tickStop)
		b.tickStop = nil
	}
}

// startCaptureLocked looks for the remote stream and, once the capture has
// settled either way, schedules the recording flag.
func (b *Bridge) startCaptureLocked(call Call) {
	if b.captureCancel != nil {
		b.captureCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.captureCancel = cancel

	go func() {
		_, found := b.monitor.Capture(ctx, call)

		b.serial.Lock()
		defer b.serial.Unlock()
		if ctx.Err() != nil || b.current != call {
			return
		}
		if !found {
			b.logger.Warn("Call continues without remote audio")
		}
		b.recTimer = time.AfterFunc(b.cfg.RecordingStartDelay, func() {
			b.serial.Lock()
			defer b.serial.Unlock()
			if ctx.Err() != nil || b.current != call {
				return
			}
			b.session.StartRecording()
		})
	}()
}

func (b *Bridge) setRegistered(ok bool) {
	b.mu.Lock()
	changed := b.initialized != ok
	b.initialized = ok
	if ok {
		b.lastErr = nil
	}
	rec, fn := b.recorder, b.onReady
	b.mu.Unlock()

	if !changed {
		return
	}
	b.logger.Info("Voice device registration changed", "registered", ok)
	if rec != nil {
		rec.RecordDeviceRegistered(ok)
	}
	if fn != nil {
		fn(ok)
	}
}

func (b *Bridge) recordError(stage string, err error) {
	b.mu.Lock()
	b.lastErr = err
	rec := b.recorder
	b.mu.Unlock()

	b.logger.Error("Telephony error", "stage", stage, "error", err)
	if rec != nil {
		rec.RecordBridgeError(stage)
	}
}

func (b *Bridge) getRecorder() Recorder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recorder
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
