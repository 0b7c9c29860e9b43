package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/calldesk/internal/domain"
)

// RecordWriter persists finished calls. store.Repository implements it.
type RecordWriter interface {
	InsertCallRecord(ctx context.Context, rec *domain.CallRecord) error
}

// History watches orchestrator snapshots and writes one CallRecord for every
// session that was dialled. Writes happen on a background goroutine through a
// bounded queue; when the queue is full the oldest record is dropped.
type History struct {
	writer RecordWriter
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	lastVersion uint64
	pending     *domain.CallRecord
	answeredAt  time.Time

	queue  chan *domain.CallRecord
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const historyQueueSize = 64

// NewHistory starts a history recorder writing to w.
func NewHistory(w RecordWriter, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &History{
		writer: w,
		now:    time.Now,
		logger: logger,
		queue:  make(chan *domain.CallRecord, historyQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	h.wg.Add(1)
	go h.process()
	return h
}

// Attach subscribes the recorder to o and returns the cancel func.
func (h *History) Attach(o *Orchestrator) func() {
	return o.Subscribe(h.Observe)
}

// Observe consumes one snapshot. Snapshots older than the last seen are
// ignored.
func (h *History) Observe(s Snapshot) {
	h.mu.Lock()
	if s.Version <= h.lastVersion && h.lastVersion != 0 {
		h.mu.Unlock()
		return
	}
	h.lastVersion = s.Version

	var done *domain.CallRecord
	if s.Session == nil || s.Session.State == domain.StateIdle {
		done = h.finishLocked()
	} else {
		h.trackLocked(s)
	}
	h.mu.Unlock()

	if done != nil {
		h.enqueue(done)
	}
}

func (h *History) trackLocked(s Snapshot) {
	sess := s.Session
	if h.pending == nil {
		started := sess.StartTime
		if started.IsZero() {
			started = h.now()
		}
		h.pending = &domain.CallRecord{
			ID:          uuid.NewString(),
			PhoneNumber: sess.PhoneNumber,
			ContactID:   s.ContactID,
			Outcome:     domain.OutcomeMissed,
			StartedAt:   started,
		}
		h.answeredAt = time.Time{}
	}
	if sess.CallSID != "" {
		h.pending.CallSID = sess.CallSID
	}
	if sess.State == domain.StateInProgress {
		h.pending.Outcome = domain.OutcomeCompleted
		if h.answeredAt.IsZero() || sess.StartTime.After(h.answeredAt) {
			h.answeredAt = sess.StartTime
		}
	}
	if s.Recording {
		h.pending.Recorded = true
	}
}

func (h *History) finishLocked() *domain.CallRecord {
	rec := h.pending
	if rec == nil {
		return nil
	}
	h.pending = nil
	rec.EndedAt = h.now()
	if !h.answeredAt.IsZero() && rec.EndedAt.After(h.answeredAt) {
		rec.Duration = int64(rec.EndedAt.Sub(h.answeredAt) / time.Second)
	}
	h.answeredAt = time.Time{}
	return rec
}

func (h *History) enqueue(rec *domain.CallRecord) {
	select {
	case h.queue <- rec:
	case <-h.ctx.Done():
		h.logger.Debug("History closed, dropping call record", "phone_number", rec.PhoneNumber)
	default:
		h.logger.Warn("History queue full, dropping oldest record", "queue_len", len(h.queue))
		select {
		case <-h.queue:
		default:
		}
		select {
		case h.queue <- rec:
		default:
		}
	}
}

func (h *History) process() {
	defer h.wg.Done()
	for {
		select {
		case rec := <-h.queue:
			h.write(rec)
		case <-h.ctx.Done():
			for {
				select {
				case rec := <-h.queue:
					h.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (h *History) write(rec *domain.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.writer.InsertCallRecord(ctx, rec); err != nil {
		h.logger.Error("Failed to save call record", "phone_number", rec.PhoneNumber, "error", err)
		return
	}
	h.logger.Info("Call record saved",
		"phone_number", rec.PhoneNumber,
		"call_sid", rec.CallSID,
		"outcome", rec.Outcome,
		"duration", rec.Duration,
	)
}

// Close flushes queued records and stops the writer goroutine.
func (h *History) Close() {
	h.cancel()
	h.wg.Wait()
}
