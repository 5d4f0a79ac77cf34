package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/internal/jobqueue"
	"github.com/cuongbtq/livestream-ai-worker/internal/metrics"
	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
	"github.com/cuongbtq/livestream-ai-worker/shared/logger"
)

const (
	cooperativeScript  = `trap "exit 0" TERM; while :; do sleep 0.05; done`
	unresponsiveScript = `trap "" TERM; while :; do sleep 0.05; done`
	testPollInterval   = 20 * time.Millisecond
)

type recordedRun struct {
	jobID   string
	outcome string
}

type memoryRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []recordedRun
}

func (r *memoryRecorder) RecordStart(_ context.Context, h *worker.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, h.Job().ID)
	return nil
}

func (r *memoryRecorder) RecordFinish(_ context.Context, h *worker.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, recordedRun{jobID: h.Job().ID, outcome: h.Outcome()})
	return nil
}

func (r *memoryRecorder) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *memoryRecorder) Finished() []recordedRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRun(nil), r.finished...)
}

func shellLauncher(script string) *worker.Launcher {
	return worker.NewLauncher(&worker.LauncherConfig{
		Logger:      logger.Discard(),
		Command:     []string{"/bin/sh", "-c", script},
		KillTimeout: time.Second,
	})
}

func testJob(n int) *domain.Job {
	return &domain.Job{
		ID:    fmt.Sprintf("job-%d", n),
		Input: domain.Input{Source: domain.Source{Type: domain.SourceTest}},
	}
}

func newDispatcher(launcher Launcher, queue Queue, recorder RunRecorder, grace time.Duration) *Dispatcher {
	return New(&Config{
		Logger:       logger.Discard(),
		Queue:        queue,
		Launcher:     launcher,
		PollInterval: testPollInterval,
		GracePeriod:  grace,
		Metrics:      metrics.New(prometheus.NewRegistry()),
		Recorder:     recorder,
	})
}

func startDispatcher(t *testing.T, d *Dispatcher) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return d.State() == StateRunning
	}, time.Second, 5*time.Millisecond)
	return errCh
}

func TestDispatcher_WorkersSelfTerminate(t *testing.T) {
	queue := jobqueue.New()
	recorder := &memoryRecorder{}
	d := newDispatcher(shellLauncher("sleep 0.3"), queue, recorder, time.Second)

	errCh := startDispatcher(t, d)

	for i := 0; i < 3; i++ {
		queue.Put(testJob(i))
	}

	require.Eventually(t, func() bool {
		return d.ActiveCount() == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, d.Active(), 3)

	// no Stop call: the periodic reap empties the active set
	require.Eventually(t, func() bool {
		return d.ActiveCount() == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(recorder.Finished()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	for _, run := range recorder.Finished() {
		assert.Equal(t, domain.OutcomeCompleted, run.outcome)
	}

	d.Stop()
	require.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, d.State())
}

func TestDispatcher_FIFOOrder(t *testing.T) {
	queue := jobqueue.New()
	recorder := &memoryRecorder{}
	d := newDispatcher(shellLauncher("exit 0"), queue, recorder, time.Second)

	const jobs = 20
	for i := 0; i < jobs; i++ {
		queue.Put(testJob(i))
	}

	errCh := startDispatcher(t, d)

	require.Eventually(t, func() bool {
		return len(recorder.Started()) == jobs
	}, 5*time.Second, 10*time.Millisecond)

	expected := make([]string, jobs)
	for i := range expected {
		expected[i] = fmt.Sprintf("job-%d", i)
	}
	assert.Equal(t, expected, recorder.Started())

	d.Stop()
	require.NoError(t, <-errCh)
}

func TestDispatcher_StopIsBoundedByGracePeriod(t *testing.T) {
	queue := jobqueue.New()
	grace := 500 * time.Millisecond
	reg := prometheus.NewRegistry()
	d := New(&Config{
		Logger:       logger.Discard(),
		Queue:        queue,
		Launcher:     shellLauncher(unresponsiveScript),
		PollInterval: testPollInterval,
		GracePeriod:  grace,
		Metrics:      metrics.New(reg),
	})

	errCh := startDispatcher(t, d)

	const workers = 5
	for i := 0; i < workers; i++ {
		queue.Put(testJob(i))
	}
	require.Eventually(t, func() bool {
		return d.ActiveCount() == workers
	}, 2*time.Second, 5*time.Millisecond)

	// let the shells install their traps
	time.Sleep(150 * time.Millisecond)

	start := time.Now()
	d.Stop()
	elapsed := time.Since(start)

	require.NoError(t, <-errCh)
	assert.GreaterOrEqual(t, elapsed, grace)
	// one grace period for all workers, not one per worker
	assert.Less(t, elapsed, grace+time.Second)
	assert.Equal(t, 0, d.ActiveCount())
	assert.Equal(t, StateStopped, d.State())
}

func TestDispatcher_StopMixedWorkers(t *testing.T) {
	queue := jobqueue.New()
	recorder := &memoryRecorder{}

	var n atomic.Int32
	launcher := launcherFunc(func() *worker.Handle {
		if n.Add(1)%2 == 0 {
			return shellLauncher(unresponsiveScript).NewHandle()
		}
		return shellLauncher(cooperativeScript).NewHandle()
	})

	d := newDispatcher(launcher, queue, recorder, 300*time.Millisecond)
	errCh := startDispatcher(t, d)

	for i := 0; i < 4; i++ {
		queue.Put(testJob(i))
	}
	require.Eventually(t, func() bool {
		return d.ActiveCount() == 4
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	d.Stop()
	require.NoError(t, <-errCh)

	outcomes := map[string]int{}
	for _, run := range recorder.Finished() {
		outcomes[run.outcome]++
	}
	assert.Equal(t, 2, outcomes[domain.OutcomeStopped])
	assert.Equal(t, 2, outcomes[domain.OutcomeKilled])
}

// stalledRecorder blocks every call until its context ends
type stalledRecorder struct {
	calls atomic.Int32
}

func (r *stalledRecorder) RecordStart(ctx context.Context, _ *worker.Handle) error {
	r.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (r *stalledRecorder) RecordFinish(ctx context.Context, _ *worker.Handle) error {
	r.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcher_StalledRecorderDoesNotSlowDispatchOrStop(t *testing.T) {
	grace := 300 * time.Millisecond
	flush := 200 * time.Millisecond

	for _, workers := range []int{1, 3, 6} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			queue := jobqueue.New()
			recorder := &stalledRecorder{}
			d := New(&Config{
				Logger:             logger.Discard(),
				Queue:              queue,
				Launcher:           shellLauncher(cooperativeScript),
				PollInterval:       testPollInterval,
				GracePeriod:        grace,
				Metrics:            metrics.New(prometheus.NewRegistry()),
				Recorder:           recorder,
				RecordFlushTimeout: flush,
			})
			errCh := startDispatcher(t, d)

			for i := 0; i < workers; i++ {
				queue.Put(testJob(i))
			}
			// every job is dispatched while the first record is still stuck
			require.Eventually(t, func() bool {
				return d.ActiveCount() == workers
			}, time.Second, 5*time.Millisecond)
			time.Sleep(150 * time.Millisecond)

			start := time.Now()
			d.Stop()
			elapsed := time.Since(start)

			require.NoError(t, <-errCh)
			assert.Less(t, elapsed, grace+flush+500*time.Millisecond)
			assert.Equal(t, StateStopped, d.State())
			assert.GreaterOrEqual(t, recorder.calls.Load(), int32(1))
		})
	}
}

type launcherFunc func() *worker.Handle

func (f launcherFunc) NewHandle() *worker.Handle { return f() }

func TestDispatcher_StartFailureDoesNotStopLoop(t *testing.T) {
	queue := jobqueue.New()
	recorder := &memoryRecorder{}

	missing := worker.NewLauncher(&worker.LauncherConfig{
		Logger:  logger.Discard(),
		Command: []string{filepath.Join(t.TempDir(), "missing-binary")},
	})
	good := shellLauncher("exit 0")

	var calls atomic.Int32
	launcher := launcherFunc(func() *worker.Handle {
		if calls.Add(1) == 1 {
			return missing.NewHandle()
		}
		return good.NewHandle()
	})

	d := newDispatcher(launcher, queue, recorder, time.Second)
	errCh := startDispatcher(t, d)

	queue.Put(testJob(0))
	queue.Put(testJob(1))

	require.Eventually(t, func() bool {
		return len(recorder.Finished()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	finished := recorder.Finished()
	assert.Equal(t, recordedRun{jobID: "job-0", outcome: domain.OutcomeFailed}, finished[0])
	assert.Equal(t, "job-1", finished[1].jobID)
	assert.Equal(t, StateRunning, d.State())

	d.Stop()
	require.NoError(t, <-errCh)
}

func TestDispatcher_PanicDoesNotStopLoop(t *testing.T) {
	queue := jobqueue.New()
	recorder := &memoryRecorder{}
	good := shellLauncher("exit 0")

	var calls atomic.Int32
	launcher := launcherFunc(func() *worker.Handle {
		if calls.Add(1) == 1 {
			panic("launcher exploded")
		}
		return good.NewHandle()
	})

	d := newDispatcher(launcher, queue, recorder, time.Second)
	errCh := startDispatcher(t, d)

	queue.Put(testJob(0))
	queue.Put(testJob(1))

	require.Eventually(t, func() bool {
		return len(recorder.Finished()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"job-1"}, recorder.Started())
	assert.Equal(t, StateRunning, d.State())

	d.Stop()
	require.NoError(t, <-errCh)
}

func TestDispatcher_StopIdempotent(t *testing.T) {
	queue := jobqueue.New()
	d := newDispatcher(shellLauncher("exit 0"), queue, nil, time.Second)
	errCh := startDispatcher(t, d)

	start := time.Now()
	d.Stop()
	d.Stop()
	require.NoError(t, <-errCh)

	// the queue wait is interrupted, not polled out
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, d.State())
}

func TestDispatcher_StopBeforeRun(t *testing.T) {
	d := newDispatcher(shellLauncher("exit 0"), jobqueue.New(), nil, time.Second)

	d.Stop()
	assert.Equal(t, StateStopped, d.State())
	require.NoError(t, d.Run(context.Background()))
}

func TestDispatcher_ContextCancelLeavesWorkersForStop(t *testing.T) {
	queue := jobqueue.New()
	d := newDispatcher(shellLauncher(cooperativeScript), queue, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	queue.Put(testJob(0))
	require.Eventually(t, func() bool {
		return d.ActiveCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, d.ActiveCount())

	time.Sleep(100 * time.Millisecond)
	d.Stop()
	assert.Equal(t, 0, d.ActiveCount())
}

func TestDispatcher_Reap(t *testing.T) {
	d := newDispatcher(shellLauncher("exit 0"), jobqueue.New(), nil, time.Second)

	h := shellLauncher("exit 0").NewHandle()
	require.NoError(t, h.Start(testJob(0)))
	d.mu.Lock()
	d.active[h.ID()] = h
	d.mu.Unlock()

	require.True(t, h.Join(context.Background(), 5*time.Second))
	assert.Equal(t, 1, d.Reap())
	assert.Equal(t, 0, d.ActiveCount())
	assert.Equal(t, 0, d.Reap())
}
