// Package refresh implements the refresh pipeline of §4.4: it absorbs
// stale-cache hints from cacheengine.Lookup and turns them into either a
// cheap revalidation or a real re-conversion, off the request path.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
)

// bufferSize bounds the hint channel. Go has no unbounded channel
// primitive; this is generous enough that Enqueue's buffer-full path is
// a last resort, not the common case.
const bufferSize = 4096

// DefaultDrainTimeout bounds how long Run spends draining buffered
// hints after its context is cancelled (§4.4: "soft deadline").
const DefaultDrainTimeout = 5 * time.Second

// Revalidator is the subset of cacheengine.Engine the pipeline depends
// on.
type Revalidator interface {
	Revalidate(ctx context.Context, hash, url string, imageTarget model.ImageTarget, videoTarget model.VideoTarget, forceRefresh bool) (bool, error)
}

// Enqueuer is the subset of convqueue.Queue the pipeline depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

type pendingKey struct {
	hash        string
	imageTarget model.ImageTarget
	videoTarget model.VideoTarget
}

// Pipeline implements cacheengine.RefreshEnqueuer: an unbounded-ish
// single-reader channel plus a pending set deduplicating concurrent
// hints for the same identity (§4.4).
type Pipeline struct {
	engine       Revalidator
	queue        Enqueuer
	ch           chan cacheengine.RefreshRequest
	drainTimeout time.Duration

	mu      sync.Mutex
	pending map[pendingKey]struct{}
}

// New creates a Pipeline. drainTimeout <= 0 uses DefaultDrainTimeout.
func New(engine Revalidator, q Enqueuer, drainTimeout time.Duration) *Pipeline {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Pipeline{
		engine:       engine,
		queue:        q,
		ch:           make(chan cacheengine.RefreshRequest, bufferSize),
		drainTimeout: drainTimeout,
		pending:      make(map[pendingKey]struct{}),
	}
}

// Enqueue implements cacheengine.RefreshEnqueuer. It is safe to call
// from any number of concurrent goroutines and never blocks the caller.
func (p *Pipeline) Enqueue(req cacheengine.RefreshRequest) {
	key := pendingKey{hash: req.Hash, imageTarget: req.ImageTarget, videoTarget: req.VideoTarget}

	p.mu.Lock()
	if _, exists := p.pending[key]; exists {
		p.mu.Unlock()
		return
	}
	p.pending[key] = struct{}{}
	p.mu.Unlock()

	select {
	case p.ch <- req:
	default:
		// Buffer full: release the dedupe slot so a later hint for the
		// same identity isn't silently swallowed forever.
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
		slog.Warn("refresh pipeline buffer full, dropping hint", slog.String("hash", req.Hash))
	}
}

// Run consumes hints until ctx is cancelled, then drains whatever is
// still buffered under drainTimeout before returning (§4.4).
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case req := <-p.ch:
			p.handle(req)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Pipeline) drain() {
	deadline := time.Now().Add(p.drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case req := <-p.ch:
			p.handle(req)
		default:
			return
		}
	}
}

// handle removes req's identity from the pending set, then revalidates
// and -- if that fails to establish freshness -- re-enqueues a real
// conversion job.
func (p *Pipeline) handle(req cacheengine.RefreshRequest) {
	key := pendingKey{hash: req.Hash, imageTarget: req.ImageTarget, videoTarget: req.VideoTarget}
	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()

	ctx := context.Background()

	fresh, err := p.engine.Revalidate(ctx, req.Hash, req.URL, req.ImageTarget, req.VideoTarget, req.Force)
	if err != nil {
		slog.Warn("refresh revalidate failed", slog.String("hash", req.Hash), slog.String("error", err.Error()))
		return
	}
	if fresh {
		return
	}

	job := queue.Job{Hash: req.Hash, URL: req.URL, ImageFormat: req.ImageTarget, VideoFormat: req.VideoTarget}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		slog.Warn("refresh re-enqueue failed", slog.String("hash", req.Hash), slog.String("error", err.Error()))
	}
}
