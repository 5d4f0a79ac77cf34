package runstore

import (
	"context"

	"github.com/cuongbtq/livestream-ai-worker/internal/worker"
)

// Recorder writes dispatcher worker events to a Store
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) RecordStart(ctx context.Context, h *worker.Handle) error {
	return r.store.RecordStart(ctx, RunFromHandle(h))
}

func (r *Recorder) RecordFinish(ctx context.Context, h *worker.Handle) error {
	return r.store.RecordFinish(ctx, RunFromHandle(h))
}
