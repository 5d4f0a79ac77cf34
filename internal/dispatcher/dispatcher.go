// Package dispatcher turns queued jobs into worker processes and owns their
// shutdown.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/jobqueue"
	"github.com/cuongbtq/livestream-ai-worker/internal/metrics"
	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
)

// Default timing
const (
	DefaultPollInterval = time.Second
	DefaultGracePeriod  = 10 * time.Second
)

// State is the dispatcher lifecycle state
type State string

// State constants
const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// Queue is the job source
type Queue interface {
	Get(ctx context.Context, timeout time.Duration) (*domain.Job, error)
	TaskDone()
}

// Launcher creates worker handles
type Launcher interface {
	NewHandle() *worker.Handle
}

// RunRecorder keeps run history. Calls happen on a dedicated goroutine;
// failures are logged, never fatal.
type RunRecorder interface {
	RecordStart(ctx context.Context, h *worker.Handle) error
	RecordFinish(ctx context.Context, h *worker.Handle) error
}

// Config holds dispatcher configuration
type Config struct {
	Logger             *slog.Logger
	Queue              Queue
	Launcher           Launcher
	PollInterval       time.Duration
	GracePeriod        time.Duration
	Metrics            *metrics.Metrics
	Recorder           RunRecorder
	RecordFlushTimeout time.Duration
}

// Dispatcher pulls jobs off the queue and starts one worker per job
type Dispatcher struct {
	logger       *slog.Logger
	queue        Queue
	launcher     Launcher
	pollInterval time.Duration
	gracePeriod  time.Duration
	metrics      *metrics.Metrics
	records      *recordWriter
	flushTimeout time.Duration

	mu       sync.Mutex
	state    State
	active   map[string]*worker.Handle
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopOnce sync.Once
}

// New creates a new dispatcher
func New(cfg *Config) *Dispatcher {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}

	flushTimeout := cfg.RecordFlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = DefaultRecordFlushTimeout
	}

	return &Dispatcher{
		logger:       cfg.Logger,
		queue:        cfg.Queue,
		launcher:     cfg.Launcher,
		pollInterval: pollInterval,
		gracePeriod:  gracePeriod,
		metrics:      cfg.Metrics,
		records:      newRecordWriter(cfg.Logger, cfg.Recorder),
		flushTimeout: flushTimeout,
		state:        StateIdle,
		active:       make(map[string]*worker.Handle),
	}
}

// Run dispatches jobs until Stop or ctx cancellation. Workers are left running
// when only ctx ends; Stop owns their shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	d.state = StateRunning
	loopDone := d.loopDone
	d.mu.Unlock()

	defer close(loopDone)
	defer cancel()

	d.logger.Info("Dispatcher started",
		slog.Duration("poll_interval", d.pollInterval),
		slog.Duration("grace_period", d.gracePeriod),
	)

	for {
		job, err := d.queue.Get(runCtx, d.pollInterval)
		if err != nil {
			if runCtx.Err() != nil {
				d.logger.Info("Dispatch loop stopped")
				return nil
			}
			if !errors.Is(err, jobqueue.ErrEmpty) {
				d.logger.Warn("Failed to get job from queue",
					slog.Any("error", err),
				)
			}
			d.Reap()
			continue
		}

		d.dispatchOne(job)
		d.queue.TaskDone()
		d.Reap()
	}
}

// dispatchOne starts a worker for job. A failure, including a panic, abandons
// this job only.
func (d *Dispatcher) dispatchOne(job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.DispatchFailed()
			d.logger.Error("Panic while dispatching job",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	h := d.launcher.NewHandle()
	if err := h.Start(job); err != nil {
		d.metrics.DispatchFailed()
		d.logger.Error("Failed to start worker",
			slog.String("job_id", job.ID),
			slog.String("worker_id", h.ID()),
			slog.Any("error", err),
		)
		d.records.enqueue(h, true)
		d.records.enqueue(h, false)
		return
	}

	d.mu.Lock()
	d.active[h.ID()] = h
	count := len(d.active)
	d.mu.Unlock()

	d.metrics.WorkerStarted()
	d.metrics.SetActiveWorkers(count)

	d.logger.Info("Worker started",
		slog.String("worker_id", h.ID()),
		slog.String("job_id", job.ID),
		slog.Int("pid", h.PID()),
		slog.String("source_type", job.Input.Source.Type),
		slog.Int("active_workers", count),
	)

	d.records.enqueue(h, true)
}

// Reap removes handles whose process has exited and returns how many were removed
func (d *Dispatcher) Reap() int {
	d.mu.Lock()
	var finished []*worker.Handle
	for id, h := range d.active {
		if !h.IsAlive() {
			finished = append(finished, h)
			delete(d.active, id)
		}
	}
	count := len(d.active)
	d.mu.Unlock()

	for _, h := range finished {
		d.finish(h)
	}
	d.metrics.SetActiveWorkers(count)

	return len(finished)
}

func (d *Dispatcher) finish(h *worker.Handle) {
	attrs := []any{
		slog.String("worker_id", h.ID()),
		slog.Int("pid", h.PID()),
		slog.String("outcome", h.Outcome()),
		slog.Int("exit_code", h.ExitCode()),
		slog.Duration("lifetime", h.Lifetime()),
	}
	if job := h.Job(); job != nil {
		attrs = append(attrs, slog.String("job_id", job.ID))
	}

	switch h.Outcome() {
	case domain.OutcomeFailed:
		d.logger.Warn("Worker exited with failure", append(attrs, slog.Any("error", h.Err()))...)
	case domain.OutcomeKilled:
		d.logger.Warn("Worker was killed", attrs...)
	default:
		d.logger.Info("Worker exited", attrs...)
	}

	d.metrics.WorkerExited(h.Outcome(), h.Lifetime())
	d.records.enqueue(h, false)
}

// Stop interrupts the dispatch loop, then stops every worker: SIGTERM to all,
// one shared grace period to exit, SIGKILL to the rest in parallel. Pending run
// records get at most the flush timeout. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.state = StateShuttingDown
		cancel, loopDone := d.cancel, d.loopDone
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if loopDone != nil {
			<-loopDone
		}

		d.shutdownWorkers()
		d.records.flush(d.flushTimeout)

		d.mu.Lock()
		d.state = StateStopped
		d.mu.Unlock()

		d.logger.Info("Dispatcher stopped")
	})
}

func (d *Dispatcher) shutdownWorkers() {
	d.mu.Lock()
	handles := make([]*worker.Handle, 0, len(d.active))
	for _, h := range d.active {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	if len(handles) == 0 {
		return
	}

	d.logger.Info("Stopping workers",
		slog.Int("count", len(handles)),
		slog.Duration("grace_period", d.gracePeriod),
	)

	// signal everyone before blocking on anyone
	for _, h := range handles {
		h.Stop()
	}

	deadline := time.Now().Add(d.gracePeriod)
	var stragglers []*worker.Handle
	for _, h := range handles {
		if !h.Join(context.Background(), time.Until(deadline)) {
			stragglers = append(stragglers, h)
		}
	}

	var wg sync.WaitGroup
	for _, h := range stragglers {
		wg.Add(1)
		go func(h *worker.Handle) {
			defer wg.Done()

			d.logger.Warn("Worker did not stop in time, killing",
				slog.String("worker_id", h.ID()),
				slog.Int("pid", h.PID()),
			)
			d.metrics.WorkerForceKilled()
			if err := h.ForceKill(); err != nil {
				d.logger.Error("Failed to kill worker",
					slog.String("worker_id", h.ID()),
					slog.Any("error", err),
				)
			}
		}(h)
	}
	wg.Wait()

	d.mu.Lock()
	for _, h := range handles {
		delete(d.active, h.ID())
	}
	count := len(d.active)
	d.mu.Unlock()

	for _, h := range handles {
		d.finish(h)
	}
	d.metrics.SetActiveWorkers(count)
}

// Active returns snapshots of the running workers, oldest first
func (d *Dispatcher) Active() []worker.Snapshot {
	d.mu.Lock()
	snapshots := make([]worker.Snapshot, 0, len(d.active))
	for _, h := range d.active {
		snapshots = append(snapshots, h.Snapshot())
	}
	d.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StartedAt.Before(snapshots[j].StartedAt)
	})
	return snapshots
}

// ActiveCount returns the size of the active set
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// State returns the dispatcher state
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (s State) String() string {
	return string(s)
}
