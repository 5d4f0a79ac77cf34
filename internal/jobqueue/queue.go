// Package jobqueue hands decoded jobs from the broker consumer to the dispatcher.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

// ErrEmpty is returned by Get when no job arrived before the timeout
var ErrEmpty = errors.New("job queue is empty")

// Queue is an unbounded FIFO. Put never blocks; Get waits up to a timeout
// so the caller can observe stop requests between polls.
type Queue struct {
	mu         sync.Mutex
	items      []*domain.Job
	unfinished int
	ready      chan struct{}
}

// New creates an empty queue
func New() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
	}
}

// Put appends a job
func (q *Queue) Put(job *domain.Job) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.unfinished++
	q.mu.Unlock()

	q.signal()
}

// Get removes the oldest job. It returns ErrEmpty after timeout and ctx.Err()
// when ctx is done first.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (*domain.Job, error) {
	if job := q.pop(); job != nil {
		return job, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			// a Put may have raced the timer
			if job := q.pop(); job != nil {
				return job, nil
			}
			return nil, ErrEmpty
		case <-q.ready:
			if job := q.pop(); job != nil {
				return job, nil
			}
		}
	}
}

func (q *Queue) pop() *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	// wake another waiter if jobs remain
	if len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return job
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TaskDone marks one previously taken job as handled
func (q *Queue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished > 0 {
		q.unfinished--
	}
}

// Unfinished returns the number of jobs put but not yet marked done
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Len returns the number of queued jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
