package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
	"github.com/cuongbtq/livestream-ai-worker/shared/logger"
)

const (
	cooperativeScript   = `trap "exit 0" TERM; while :; do sleep 0.05; done`
	unresponsiveScript  = `trap "" TERM; while :; do sleep 0.05; done`
	testJobID           = "8d0f6a8e-3f0c-4f65-9b8e-0b1f3c9b2d10"
	shortJoinTimeout    = 200 * time.Millisecond
	generousJoinTimeout = 5 * time.Second
)

func testJob() *domain.Job {
	return &domain.Job{
		ID: testJobID,
		Input: domain.Input{Source: domain.Source{
			Type:     domain.SourceRTSP,
			Location: "rtsp://camera-1/stream",
		}},
		Output: domain.Output{Type: domain.OutputFake},
	}
}

func shellLauncher(script string, args ...string) *Launcher {
	return NewLauncher(&LauncherConfig{
		Logger:      logger.Discard(),
		Command:     append([]string{"/bin/sh", "-c", script}, args...),
		KillTimeout: time.Second,
	})
}

func TestHandle_ExitStatus(t *testing.T) {
	tests := []struct {
		name             string
		script           string
		expectedState    domain.WorkerState
		expectedOutcome  string
		expectedExitCode int
	}{
		{
			name:             "completes",
			script:           "exit 0",
			expectedState:    domain.WorkerStopped,
			expectedOutcome:  domain.OutcomeCompleted,
			expectedExitCode: 0,
		},
		{
			name:             "pipeline error",
			script:           "exit 1",
			expectedState:    domain.WorkerFailed,
			expectedOutcome:  domain.OutcomeFailed,
			expectedExitCode: 1,
		},
		{
			name:             "create failed",
			script:           "exit 3",
			expectedState:    domain.WorkerFailed,
			expectedOutcome:  domain.OutcomeFailed,
			expectedExitCode: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := shellLauncher(tt.script).NewHandle()
			require.NoError(t, h.Start(testJob()))
			assert.NotZero(t, h.PID())

			require.True(t, h.Join(context.Background(), generousJoinTimeout))
			assert.False(t, h.IsAlive())
			assert.Equal(t, tt.expectedState, h.State())
			assert.Equal(t, tt.expectedOutcome, h.Outcome())
			assert.Equal(t, tt.expectedExitCode, h.ExitCode())
			assert.False(t, h.Forced())
			assert.False(t, h.EndedAt().Before(h.StartedAt()))
		})
	}
}

func TestHandle_JobOnStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "job.json")

	h := shellLauncher(`cat > "$0"`, out).NewHandle()
	require.NoError(t, h.Start(testJob()))
	require.True(t, h.Join(context.Background(), generousJoinTimeout))
	require.Equal(t, domain.OutcomeCompleted, h.Outcome())

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var received domain.Job
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, testJobID, received.ID)
	assert.Equal(t, "rtsp://camera-1/stream", received.Input.Source.Location)
}

func TestHandle_JobIDEnvironment(t *testing.T) {
	h := shellLauncher(`test "$` + JobIDEnv + `" = "` + testJobID + `"`).NewHandle()
	require.NoError(t, h.Start(testJob()))
	require.True(t, h.Join(context.Background(), generousJoinTimeout))
	assert.Equal(t, 0, h.ExitCode())
}

func TestHandle_Stop(t *testing.T) {
	h := shellLauncher(cooperativeScript).NewHandle()
	require.NoError(t, h.Start(testJob()))
	assert.True(t, h.IsAlive())
	assert.Equal(t, domain.WorkerRunning, h.State())

	// let the shell install its trap
	time.Sleep(100 * time.Millisecond)

	h.Stop()
	assert.Equal(t, domain.WorkerStopping, h.State())
	h.Stop()
	assert.Equal(t, domain.WorkerStopping, h.State())

	require.True(t, h.Join(context.Background(), generousJoinTimeout))
	assert.Equal(t, domain.WorkerStopped, h.State())
	assert.Equal(t, domain.OutcomeStopped, h.Outcome())
	assert.False(t, h.Forced())

	// no-op once stopped
	h.Stop()
	assert.Equal(t, domain.WorkerStopped, h.State())
}

func TestHandle_ForceKill(t *testing.T) {
	h := shellLauncher(unresponsiveScript).NewHandle()
	require.NoError(t, h.Start(testJob()))
	time.Sleep(100 * time.Millisecond)

	h.Stop()
	assert.False(t, h.Join(context.Background(), shortJoinTimeout))
	assert.True(t, h.IsAlive())

	start := time.Now()
	require.NoError(t, h.ForceKill())
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, h.IsAlive())
	assert.True(t, h.Forced())
	assert.Equal(t, domain.OutcomeKilled, h.Outcome())
	assert.Equal(t, domain.WorkerStopped, h.State())
	assert.Equal(t, -1, h.ExitCode())

	// already reaped
	require.NoError(t, h.ForceKill())
}

func TestHandle_StartFailures(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		l := NewLauncher(&LauncherConfig{
			Logger:  logger.Discard(),
			Command: []string{filepath.Join(t.TempDir(), "does-not-exist")},
		})
		h := l.NewHandle()

		err := h.Start(testJob())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start worker process")
		assert.Equal(t, domain.WorkerFailed, h.State())
		assert.Equal(t, domain.OutcomeFailed, h.Outcome())
		assert.False(t, h.IsAlive())
		assert.True(t, h.Join(context.Background(), 0))
		assert.Error(t, h.Err())
	})

	t.Run("empty command", func(t *testing.T) {
		h := NewLauncher(&LauncherConfig{Logger: logger.Discard()}).NewHandle()

		err := h.Start(testJob())
		assert.ErrorIs(t, err, ErrNoCommand)
		assert.Equal(t, domain.WorkerFailed, h.State())
	})

	t.Run("started twice", func(t *testing.T) {
		h := shellLauncher("exit 0").NewHandle()
		require.NoError(t, h.Start(testJob()))

		assert.ErrorIs(t, h.Start(testJob()), ErrAlreadyStarted)
		require.True(t, h.Join(context.Background(), generousJoinTimeout))
	})
}

func TestHandle_NotStarted(t *testing.T) {
	h := shellLauncher("exit 0").NewHandle()

	assert.Equal(t, domain.WorkerStarting, h.State())
	assert.False(t, h.IsAlive())
	assert.NotPanics(t, h.Stop)
	assert.NoError(t, h.ForceKill())
	assert.False(t, h.Join(context.Background(), 10*time.Millisecond))
}

func TestHandle_JoinContextCanceled(t *testing.T) {
	h := shellLauncher(cooperativeScript).NewHandle()
	require.NoError(t, h.Start(testJob()))
	t.Cleanup(func() { _ = h.ForceKill() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.False(t, h.Join(ctx, time.Hour))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandle_Snapshot(t *testing.T) {
	h := shellLauncher(cooperativeScript).NewHandle()
	require.NoError(t, h.Start(testJob()))
	t.Cleanup(func() { _ = h.ForceKill() })

	snapshot := h.Snapshot()
	assert.Equal(t, h.ID(), snapshot.ID)
	assert.Equal(t, testJobID, snapshot.JobID)
	assert.Equal(t, domain.SourceRTSP, snapshot.SourceType)
	assert.Equal(t, "rtsp://camera-1/stream", snapshot.SourceLocation)
	assert.Equal(t, h.PID(), snapshot.PID)
	assert.Equal(t, domain.WorkerRunning, snapshot.State)
	assert.False(t, snapshot.StartedAt.IsZero())
}

func TestNewLauncher_Defaults(t *testing.T) {
	l := NewLauncher(&LauncherConfig{Logger: logger.Discard(), Command: []string{"/bin/true"}})

	assert.Equal(t, DefaultKillTimeout, l.killTimeout)
	assert.Equal(t, []string{"/bin/true"}, l.Command())
}
