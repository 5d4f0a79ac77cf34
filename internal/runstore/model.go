package runstore

import (
	"time"

	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
)

// Run is one worker process execution. Times are unix nanoseconds; EndedAt is
// zero while the run is in flight.
type Run struct {
	RunID          string `db:"run_id"`
	JobID          string `db:"job_id"`
	SourceType     string `db:"source_type"`
	SourceLocation string `db:"source_location"`
	State          string `db:"state"`
	Outcome        string `db:"outcome"`
	ExitCode       int    `db:"exit_code"`
	Forced         bool   `db:"forced"`
	Error          string `db:"error"`
	StartedAt      int64  `db:"started_at"`
	EndedAt        int64  `db:"ended_at"`
}

// StartedTime returns StartedAt as a time
func (r *Run) StartedTime() time.Time {
	return time.Unix(0, r.StartedAt).UTC()
}

// EndedTime returns EndedAt as a time, zero while running
func (r *Run) EndedTime() time.Time {
	if r.EndedAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, r.EndedAt).UTC()
}

// RunFromHandle builds the row for a worker handle in its current state
func RunFromHandle(h *worker.Handle) *Run {
	snapshot := h.Snapshot()

	run := &Run{
		RunID:          snapshot.ID,
		JobID:          snapshot.JobID,
		SourceType:     snapshot.SourceType,
		SourceLocation: snapshot.SourceLocation,
		State:          string(snapshot.State),
		Outcome:        h.Outcome(),
		ExitCode:       h.ExitCode(),
		Forced:         h.Forced(),
		StartedAt:      unixNano(snapshot.StartedAt),
		EndedAt:        unixNano(h.EndedAt()),
	}
	if err := h.Err(); err != nil {
		run.Error = err.Error()
	}

	// a start failure never ran; use its end as the start
	if run.StartedAt == 0 {
		run.StartedAt = run.EndedAt
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}

	return run
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
