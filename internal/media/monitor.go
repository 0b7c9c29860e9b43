package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

var errNoStream = errors.New("remote stream has no live audio track")

// CaptureRecorder receives capture telemetry. metrics.Metrics implements it.
type CaptureRecorder interface {
	RecordCaptureAttempt(found bool)
	RecordCaptureResult(result string)
}

// Capture results reported to the recorder.
const (
	CaptureFound     = "found"
	CaptureExhausted = "exhausted"
	CaptureCanceled  = "canceled"
	CaptureStale     = "stale"
)

// Monitor captures the remote stream of the live call and exposes it to
// readers such as the visualizer.
//
// The stream is written to a held reference the moment it is found and then
// published. Readers get the published value, or the held one if publication
// has not happened yet, so once a stream is visible it stays visible until
// Clear.
type Monitor struct {
	delays []time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	held     Stream
	exposed  Stream
	gen      uint64
	cancel   context.CancelFunc
	attempts []time.Time
	onChange func(Stream)
	recorder CaptureRecorder
}

// NewMonitor returns a monitor that retries after each of delays in turn.
// The defaults are 500ms then 1s.
func NewMonitor(delays []time.Duration, logger *slog.Logger) *Monitor {
	if delays == nil {
		delays = []time.Duration{500 * time.Millisecond, time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		delays: append([]time.Duration(nil), delays...),
		logger: logger,
	}
}

// OnChange registers the listener notified when the stream is published or
// cleared. It is called without the monitor lock held.
func (m *Monitor) OnChange(fn func(Stream)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetRecorder attaches capture telemetry.
func (m *Monitor) SetRecorder(r CaptureRecorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// Capture looks for a live audio stream on src, attempting immediately and
// then once after each configured delay. It blocks until a stream is found,
// the attempts run out, ctx ends, or Clear supersedes it. Running out of
// attempts is not an error; the call simply proceeds without a visual.
func (m *Monitor) Capture(ctx context.Context, src StreamSource) (Stream, bool) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	gen := m.gen
	m.attempts = m.attempts[:0]
	recorder := m.recorder
	m.mu.Unlock()
	defer cancel()

	var found Stream
	err := retry.Do(ctx, stagedBackoff(m.delays), func(ctx context.Context) error {
		n := m.markAttempt(gen)
		s := src.RemoteStream()
		ok := HasLiveAudio(s)
		if recorder != nil {
			recorder.RecordCaptureAttempt(ok)
		}
		if !ok {
			m.logger.Debug("Remote stream not ready", "attempt", n)
			return retry.RetryableError(errNoStream)
		}
		found = s
		return nil
	})

	result := CaptureFound
	switch {
	case errors.Is(err, errNoStream):
		result = CaptureExhausted
		m.logger.Warn("Remote stream capture exhausted", "attempts", len(m.delays)+1)
	case err != nil:
		result = CaptureCanceled
		m.logger.Debug("Remote stream capture canceled", "error", err)
	case !m.publish(gen, found):
		result = CaptureStale
		found = nil
	default:
		m.logger.Info("Remote stream captured", "stream_id", found.ID())
	}
	if recorder != nil {
		recorder.RecordCaptureResult(result)
	}
	return found, result == CaptureFound
}

// Stream returns the captured stream, or nil.
func (m *Monitor) Stream() Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exposed != nil {
		return m.exposed
	}
	return m.held
}

// HasStream reports whether a stream is currently visible.
func (m *Monitor) HasStream() bool {
	return m.Stream() != nil
}

// Attempts returns the times of the attempts made by the latest capture.
func (m *Monitor) Attempts() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.attempts...)
}

// Clear synchronously drops the stream and abandons any capture in flight.
// A capture started before Clear can no longer publish.
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	had := m.held != nil || m.exposed != nil
	m.held = nil
	m.exposed = nil
	fn := m.onChange
	m.mu.Unlock()

	if had && fn != nil {
		fn(nil)
	}
}

func (m *Monitor) markAttempt(gen uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.attempts = append(m.attempts, time.Now())
	}
	return len(m.attempts)
}

func (m *Monitor) publish(gen uint64, s Stream) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.held = s
	changed := m.exposed != s
	m.exposed = s
	fn := m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(s)
	}
	return true
}

// stagedBackoff waits each delay once, in order, then stops.
func stagedBackoff(delays []time.Duration) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(delays) {
			return 0, true
		}
		d := delays[i]
		i++
		return d, false
	})
}
