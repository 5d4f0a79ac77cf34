// Package worker supervises the OS process that runs one pipeline.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

// Snapshot is a point-in-time view of a handle, safe to hand to other goroutines
type Snapshot struct {
	ID             string             `json:"id"`
	JobID          string             `json:"job_id"`
	SourceType     string             `json:"source_type"`
	SourceLocation string             `json:"source_location,omitempty"`
	PID            int                `json:"pid"`
	State          domain.WorkerState `json:"state"`
	StartedAt      time.Time          `json:"started_at"`
}

// Handle supervises one worker process. States move
// Starting -> Running -> Stopping -> Stopped, or to Failed on a start
// failure or a non-zero exit.
type Handle struct {
	id          string
	logger      *slog.Logger
	command     []string
	dir         string
	env         []string
	launcher    *Launcher
	killTimeout time.Duration

	mu            sync.Mutex
	job           *domain.Job
	cmd           *exec.Cmd
	pid           int
	state         domain.WorkerState
	stopRequested bool
	killRequested bool
	exited        bool
	forced        bool
	outcome       string
	exitCode      int
	err           error
	startedAt     time.Time
	endedAt       time.Time
	done          chan struct{}
}

func newHandle(l *Launcher) *Handle {
	return &Handle{
		id:          uuid.NewString(),
		logger:      l.logger,
		command:     l.command,
		dir:         l.dir,
		env:         l.env,
		launcher:    l,
		killTimeout: l.killTimeout,
		state:       domain.WorkerStarting,
		exitCode:    -1,
		done:        make(chan struct{}),
	}
}

// Start spawns the worker process with the job JSON on stdin. It returns once
// the process exists; a failure leaves the handle Failed.
func (h *Handle) Start(job *domain.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != domain.WorkerStarting || h.job != nil {
		return ErrAlreadyStarted
	}
	h.job = job

	if len(h.command) == 0 {
		h.failStartLocked(ErrNoCommand)
		return ErrNoCommand
	}

	payload, err := json.Marshal(job)
	if err != nil {
		err = fmt.Errorf("failed to encode job: %w", err)
		h.failStartLocked(err)
		return err
	}

	cmd := exec.Command(h.command[0], h.command[1:]...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = h.launcher.stdout
	cmd.Stderr = h.launcher.stderr
	cmd.Dir = h.dir
	cmd.Env = append(append(os.Environ(), h.env...), JobIDEnv+"="+job.ID)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("failed to start worker process: %w", err)
		h.failStartLocked(err)
		return err
	}

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.state = domain.WorkerRunning
	h.startedAt = time.Now()

	go h.wait()

	return nil
}

func (h *Handle) failStartLocked(err error) {
	h.state = domain.WorkerFailed
	h.outcome = domain.OutcomeFailed
	h.err = err
	h.endedAt = time.Now()
	close(h.done)
}

// wait reaps the process and records how it ended
func (h *Handle) wait() {
	switch err := waitExited(h.pid); {
	case err == nil:
		h.mu.Lock()
		h.exited = true
		h.mu.Unlock()
	case !errors.Is(err, errors.ErrUnsupported):
		h.logger.Debug("Failed to observe worker exit before reaping",
			slog.String("worker_id", h.id),
			slog.Int("pid", h.pid),
			slog.Any("error", err),
		)
	}

	waitErr := h.cmd.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.endedAt = time.Now()
	state := h.cmd.ProcessState
	h.exitCode = state.ExitCode()

	killed := false
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		killed = ws.Signaled() && ws.Signal() == syscall.SIGKILL
	}

	switch {
	case h.killRequested && killed:
		h.forced = true
		h.state = domain.WorkerStopped
		h.outcome = domain.OutcomeKilled
	case h.stopRequested:
		h.state = domain.WorkerStopped
		h.outcome = domain.OutcomeStopped
	case h.exitCode == 0:
		h.state = domain.WorkerStopped
		h.outcome = domain.OutcomeCompleted
	default:
		h.state = domain.WorkerFailed
		h.outcome = domain.OutcomeFailed
		h.err = waitErr
	}

	close(h.done)
}

// Stop asks the worker to tear its pipeline down. Only a Running handle is
// signalled, so repeated calls are no-ops.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != domain.WorkerRunning {
		return
	}
	h.stopRequested = true
	h.state = domain.WorkerStopping

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.logger.Warn("Failed to signal worker",
			slog.String("worker_id", h.id),
			slog.Int("pid", h.pid),
			slog.Any("error", err),
		)
	}
}

// Join waits up to timeout, or until ctx is done, for the process to exit.
// It reports whether the process has exited.
func (h *Handle) Join(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	default:
	}

	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// ForceKill sends SIGKILL to the worker's process group and waits at most the
// kill timeout for the process to be reaped. A process that already exited is
// not signalled.
func (h *Handle) ForceKill() error {
	h.mu.Lock()
	if h.cmd == nil || h.state.Terminal() {
		h.mu.Unlock()
		return nil
	}
	pid := h.pid
	if !h.exited {
		// signalled under the lock: wait() only reaps after setting exited,
		// so the pid and group still belong to this worker
		h.killRequested = true
		h.killGroupLocked()
	}
	h.mu.Unlock()

	timer := time.NewTimer(h.killTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: pid %d after %s", ErrKillTimeout, pid, h.killTimeout)
	}
}

func (h *Handle) killGroupLocked() {
	if err := unix.Kill(-h.pid, unix.SIGKILL); err == nil {
		return
	}
	// the group may already be gone; make sure the leader is
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.logger.Warn("Failed to kill worker",
			slog.String("worker_id", h.id),
			slog.Int("pid", h.pid),
			slog.Any("error", err),
		)
	}
}

// IsAlive reports whether the process has been started and not yet reaped
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cmd != nil
}

// Done is closed once the process has been reaped or failed to start
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Job() *domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

func (h *Handle) State() domain.WorkerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Outcome is empty until the process has exited
func (h *Handle) Outcome() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// ExitCode is -1 while running or when the process was ended by a signal
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Forced reports whether the process was ended by ForceKill
func (h *Handle) Forced() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forced
}

// Err returns the start failure or the wait error of a failed run
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

func (h *Handle) EndedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endedAt
}

// Lifetime is the time between spawn and reap, zero if either is missing
func (h *Handle) Lifetime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startedAt.IsZero() || h.endedAt.IsZero() {
		return 0
	}
	return h.endedAt.Sub(h.startedAt)
}

// Snapshot returns a copy of the handle's identity and state
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := Snapshot{
		ID:        h.id,
		PID:       h.pid,
		State:     h.state,
		StartedAt: h.startedAt,
	}
	if h.job != nil {
		snapshot.JobID = h.job.ID
		snapshot.SourceType = h.job.Input.Source.Type
		snapshot.SourceLocation = h.job.Input.Source.Location
	}
	return snapshot
}
