package visualizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/calldesk/internal/media"
)

// Visualizer renders frames from the current stream while the call is active.
// The frame loop runs only while active; an inactive visualizer emits a single
// idle frame and then stays quiet.
type Visualizer struct {
	interval    time.Duration
	width       float64
	height      float64
	newAnalyser func(media.Stream) FrequencySource
	logger      *slog.Logger

	mu       sync.Mutex
	active   bool
	stream   media.Stream
	analyser FrequencySource
	onFrame  func(Frame)
	stop     chan struct{}
	done     chan struct{}
	seq      uint64
	closed   bool
}

// Option configures a Visualizer.
type Option func(*Visualizer)

// WithFPS sets the frame rate of the loop.
func WithFPS(fps int) Option {
	return func(v *Visualizer) {
		if fps > 0 {
			v.interval = time.Second / time.Duration(fps)
		}
	}
}

// WithCanvas sets the canvas size in pixels.
func WithCanvas(width, height float64) Option {
	return func(v *Visualizer) {
		if width > 0 && height > 0 {
			v.width, v.height = width, height
		}
	}
}

// WithAnalyserFactory replaces the analyser constructor.
func WithAnalyserFactory(fn func(media.Stream) FrequencySource) Option {
	return func(v *Visualizer) {
		if fn != nil {
			v.newAnalyser = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Visualizer) {
		if l != nil {
			v.logger = l
		}
	}
}

// New returns an inactive visualizer.
func New(opts ...Option) *Visualizer {
	v := &Visualizer{
		interval: time.Second / 60,
		width:    CanvasWidth,
		height:   CanvasHeight,
		newAnalyser: func(s media.Stream) FrequencySource {
			return NewAnalyser(s)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// OnFrame registers the frame consumer. It runs on the loop goroutine.
func (v *Visualizer) OnFrame(fn func(Frame)) {
	v.mu.Lock()
	v.onFrame = fn
	v.mu.Unlock()
}

// SetActive turns the frame loop on or off.
func (v *Visualizer) SetActive(active bool) {
	v.mu.Lock()
	if v.closed || v.active == active {
		v.mu.Unlock()
		return
	}
	v.active = active
	v.reconcileLocked()
	if active {
		v.startLocked()
		v.mu.Unlock()
		return
	}
	stop, done := v.detachLoopLocked()
	v.mu.Unlock()

	waitLoop(stop, done)
	v.emit(v.Frame())
}

// SetStream swaps the stream being analysed. The previous analyser is
// released whenever the stream changes or disappears.
func (v *Visualizer) SetStream(s media.Stream) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || v.stream == s {
		return
	}
	v.releaseLocked()
	v.stream = s
	v.reconcileLocked()
}

// Active reports whether the loop is running.
func (v *Visualizer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Frame renders the current state without advancing the loop.
func (v *Visualizer) Frame() Frame {
	v.mu.Lock()
	active := v.active
	analyser := v.analyser
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	var bins []uint8
	if active && analyser != nil {
		buf := make([]uint8, BinCount)
		n := analyser.ByteFrequencyData(buf)
		bins = buf[:n]
	}
	f := Render(bins, v.width, v.height)
	f.Seq = seq
	f.Active = active
	return f
}

// Close stops the loop and releases the analyser. It is safe to call twice.
func (v *Visualizer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.active = false
	v.releaseLocked()
	v.stream = nil
	stop, done := v.detachLoopLocked()
	v.mu.Unlock()

	waitLoop(stop, done)
}

// reconcileLocked creates an analyser when active with a live stream and
// releases it otherwise.
func (v *Visualizer) reconcileLocked() {
	want := v.active && media.HasLiveAudio(v.stream)
	switch {
	case want && v.analyser == nil:
		v.analyser = v.newAnalyser(v.stream)
		v.logger.Debug("Visualizer analyser attached", "stream_id", v.stream.ID())
	case !want:
		v.releaseLocked()
	}
}

func (v *Visualizer) releaseLocked() {
	if v.analyser != nil {
		v.analyser.Close()
		v.analyser = nil
	}
}

func (v *Visualizer) startLocked() {
	if v.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	v.stop, v.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				v.emit(v.Frame())
			}
		}
	}()
}

func (v *Visualizer) detachLoopLocked() (chan struct{}, chan struct{}) {
	stop, done := v.stop, v.done
	v.stop, v.done = nil, nil
	return stop, done
}

func waitLoop(stop, done chan struct{}) {
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (v *Visualizer) emit(f Frame) {
	v.mu.Lock()
	fn := v.onFrame
	v.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}
