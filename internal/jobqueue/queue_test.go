package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

func newJob(id string) *domain.Job {
	return &domain.Job{ID: id, Input: domain.Input{Source: domain.Source{Type: domain.SourceTest}}}
}

func TestQueue_FIFO(t *testing.T) {
	q := New()
	for i := 0; i < 100; i++ {
		q.Put(newJob(fmt.Sprintf("job-%d", i)))
	}
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		job, err := q.Get(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_GetTimeout(t *testing.T) {
	q := New()

	start := time.Now()
	job, err := q.Get(context.Background(), 50*time.Millisecond)

	assert.ErrorIs(t, err, ErrEmpty)
	assert.Nil(t, job)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_GetContextCanceled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := q.Get(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueue_GetWakesOnPut(t *testing.T) {
	q := New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Put(newJob("late"))
	}()

	job, err := q.Get(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", job.ID)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New()
	const producers, perProducer = 4, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(newJob(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}

	seen := make(map[string]bool)
	lastIndex := make(map[int]int)
	for len(seen) < producers*perProducer {
		job, err := q.Get(context.Background(), time.Second)
		require.NoError(t, err)
		require.False(t, seen[job.ID], "job %s delivered twice", job.ID)
		seen[job.ID] = true

		// each producer's jobs come out in the order it put them
		var p, i int
		_, err = fmt.Sscanf(job.ID, "%d-%d", &p, &i)
		require.NoError(t, err)
		if last, ok := lastIndex[p]; ok {
			assert.Greater(t, i, last)
		}
		lastIndex[p] = i
	}
	wg.Wait()

	_, err := q.Get(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_TaskDone(t *testing.T) {
	q := New()
	q.Put(newJob("a"))
	q.Put(newJob("b"))
	assert.Equal(t, 2, q.Unfinished())

	_, err := q.Get(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Unfinished())

	q.TaskDone()
	assert.Equal(t, 1, q.Unfinished())

	q.TaskDone()
	q.TaskDone()
	assert.Equal(t, 0, q.Unfinished())
}
