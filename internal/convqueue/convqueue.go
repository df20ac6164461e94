// Package convqueue is the single-flight façade over the work queue
// (§4.2): it deduplicates concurrent enqueues of the same conversion
// identity via a KV in-flight marker and forwards the survivor to the
// backend queue.
package convqueue

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/infrastructure/kv"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
)

// Queue deduplicates Enqueue calls for the same identity against a KV
// in-flight marker, and otherwise passes through to a queue.Queue.
type Queue struct {
	kv      kv.Store
	backend queue.Queue
	version int
}

// New creates a Queue. version scopes the in-flight marker key the same
// way cacheengine scopes its own keys, so both point at the same
// converting:{...}_{v} record.
func New(kvStore kv.Store, backend queue.Queue, version int) *Queue {
	return &Queue{kv: kvStore, backend: backend, version: version}
}

func (q *Queue) inFlightKey(id model.Identity) string {
	return "converting:" + id.ConvertingKeyFragment() + "_" + strconv.Itoa(q.version)
}

// Enqueue claims the in-flight marker for job's identity and, if the
// claim succeeds, pushes job to the backend queue. If the marker is
// already held, Enqueue logs and returns nil without enqueueing -- the
// caller is expected to already be waiting on the in-flight
// conversion, not starting a new one.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if q.kv != nil {
		claimed, err := q.kv.SetNX(ctx, q.inFlightKey(job.Identity()), "1", cacheengine.InFlightTTL)
		if err != nil {
			return err
		}
		if !claimed {
			slog.Info("conversion already in flight, skipping enqueue",
				slog.String("hash", job.Hash))
			return nil
		}
	}

	if err := q.backend.Publish(ctx, job); err != nil {
		return err
	}
	return nil
}

// Dequeue blocks until a job is available or ctx is cancelled. It is a
// thin pass-through to the backend queue, which owns the
// delete-before-processing and malformed-message semantics (§4.2).
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	return q.backend.Dequeue(ctx)
}

// Close releases the backend queue's resources.
func (q *Queue) Close() error {
	return q.backend.Close()
}

