package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
)

type fakeRevalidator struct {
	mu    sync.Mutex
	calls int
	fresh bool
	err   error
}

func (f *fakeRevalidator) Revalidate(_ context.Context, _, _ string, _ model.ImageTarget, _ model.VideoTarget, _ bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fresh, f.err
}

func (f *fakeRevalidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeEnqueuer) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func req(hash string) cacheengine.RefreshRequest {
	return cacheengine.RefreshRequest{Hash: hash, URL: "https://example.com/" + hash, ImageTarget: model.UASTC, VideoTarget: model.MP4}
}

func TestPipeline_DedupesConcurrentHints(t *testing.T) {
	revalidator := &fakeRevalidator{fresh: true}
	enqueuer := &fakeEnqueuer{}
	p := New(revalidator, enqueuer, 200*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Enqueue(req("same-hash"))
		}()
	}
	wg.Wait()

	// Start the consumer only after all hints are in, so every hint
	// after the first arrives while the first is still pending.
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)

	if calls := revalidator.callCount(); calls > 1 {
		t.Errorf("revalidate called %d times for 20 concurrent identical hints, want 1 (dedupe failed)", calls)
	}
	if calls := revalidator.callCount(); calls == 0 {
		t.Error("expected at least one revalidate call")
	}
}

func TestPipeline_RevalidateFailsReenqueues(t *testing.T) {
	revalidator := &fakeRevalidator{fresh: false}
	enqueuer := &fakeEnqueuer{}
	p := New(revalidator, enqueuer, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	p.Enqueue(req("abc"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if enqueuer.jobCount() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if enqueuer.jobCount() != 1 {
		t.Fatalf("re-enqueued jobs = %d, want 1", enqueuer.jobCount())
	}
}

func TestPipeline_RevalidateSucceedsDoesNotReenqueue(t *testing.T) {
	revalidator := &fakeRevalidator{fresh: true}
	enqueuer := &fakeEnqueuer{}
	p := New(revalidator, enqueuer, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	p.Enqueue(req("abc"))

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if enqueuer.jobCount() != 0 {
		t.Errorf("re-enqueued jobs = %d, want 0", enqueuer.jobCount())
	}
}

func TestPipeline_SecondHintAfterConsumptionIsNotDropped(t *testing.T) {
	revalidator := &fakeRevalidator{fresh: true}
	enqueuer := &fakeEnqueuer{}
	p := New(revalidator, enqueuer, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	p.Enqueue(req("abc"))
	time.Sleep(50 * time.Millisecond)
	p.Enqueue(req("abc"))
	time.Sleep(50 * time.Millisecond)

	if calls := revalidator.callCount(); calls != 2 {
		t.Errorf("revalidate calls = %d, want 2 (second hint after first was consumed should not be dropped)", calls)
	}
}
