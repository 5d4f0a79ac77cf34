package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
)

const (
	recordTimeout = 5 * time.Second
	recordBuffer  = 1024

	// DefaultRecordFlushTimeout bounds how long Stop waits for pending run
	// records to reach the recorder
	DefaultRecordFlushTimeout = time.Second
)

type recordEvent struct {
	handle *worker.Handle
	start  bool
}

// recordWriter hands run records to the RunRecorder on one goroutine, in the
// order they were queued. Enqueueing never blocks; a full buffer drops the
// record.
type recordWriter struct {
	logger   *slog.Logger
	recorder RunRecorder

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	events  chan recordEvent
	started bool
	closed  bool
	done    chan struct{}
}

func newRecordWriter(logger *slog.Logger, recorder RunRecorder) *recordWriter {
	ctx, cancel := context.WithCancel(context.Background())
	return &recordWriter{
		logger:   logger,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan recordEvent, recordBuffer),
		done:     make(chan struct{}),
	}
}

func (w *recordWriter) enqueue(h *worker.Handle, start bool) {
	if w.recorder == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.logger.Warn("Dropping run record after shutdown",
			slog.String("worker_id", h.ID()),
			slog.Bool("start", start),
		)
		return
	}
	if !w.started {
		w.started = true
		go w.run()
	}

	select {
	case w.events <- recordEvent{handle: h, start: start}:
	default:
		w.logger.Warn("Run record buffer full, dropping record",
			slog.String("worker_id", h.ID()),
			slog.Bool("start", start),
		)
	}
}

func (w *recordWriter) run() {
	defer close(w.done)

	for event := range w.events {
		// flush deadline passed; drain without calling the recorder
		if w.ctx.Err() != nil {
			continue
		}
		w.write(event)
	}
}

func (w *recordWriter) write(event recordEvent) {
	ctx, cancel := context.WithTimeout(w.ctx, recordTimeout)
	defer cancel()

	var err error
	if event.start {
		err = w.recorder.RecordStart(ctx, event.handle)
	} else {
		err = w.recorder.RecordFinish(ctx, event.handle)
	}
	if err != nil {
		w.logger.Warn("Failed to record worker run",
			slog.String("worker_id", event.handle.ID()),
			slog.Bool("start", event.start),
			slog.Any("error", err),
		)
	}
}

// flush stops accepting records and waits up to timeout for the queued ones to
// be written. Records still pending at the deadline are dropped.
func (w *recordWriter) flush(timeout time.Duration) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	started := w.started
	close(w.events)
	w.mu.Unlock()

	if !started {
		w.cancel()
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		w.cancel()
	case <-timer.C:
		pending := len(w.events)
		w.cancel()
		w.logger.Warn("Run history flush timed out, dropping pending records",
			slog.Duration("timeout", timeout),
			slog.Int("pending", pending),
		)
	}
}
