package queue

import (
	"context"
	"errors"
)

// InProcessQueue is the dev-mode backend (§9): an unbounded in-process
// channel standing in for RabbitMQ when no broker is configured.
type InProcessQueue struct {
	jobs chan Job
}

// NewInProcessQueue creates an in-process queue. The channel is buffered
// generously rather than truly unbounded -- Go has no unbounded channel
// primitive -- which is sufficient for dev/test workloads.
func NewInProcessQueue() *InProcessQueue {
	return &InProcessQueue{jobs: make(chan Job, 4096)}
}

// Publish enqueues job, blocking if the buffer is full.
func (q *InProcessQueue) Publish(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job is available or ctx is cancelled.
func (q *InProcessQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, errors.New("queue closed")
		}
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close closes the underlying channel. Safe to call once.
func (q *InProcessQueue) Close() error {
	close(q.jobs)
	return nil
}

var _ Queue = (*InProcessQueue)(nil)
