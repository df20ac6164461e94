package waiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/domain/model"
)

type fakeLookuper struct {
	calls   int32
	results []*cacheengine.Result // returned in order, one per call; last one repeats
}

func (f *fakeLookuper) Lookup(_ context.Context, _ string, _ model.ImageTarget, _ model.VideoTarget, _ bool, _ string) (*cacheengine.Result, error) {
	n := atomic.AddInt32(&f.calls, 1)
	idx := int(n) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func TestService_Wait_ResolvesOnImmediateHit(t *testing.T) {
	lk := &fakeLookuper{results: []*cacheengine.Result{{URL: "https://cdn.example.com/a"}}}
	s := New(lk, Config{WaitTimeout: time.Second, PollInterval: 10 * time.Millisecond})

	result, err := s.Wait(context.Background(), "abc", model.UASTC, model.MP4)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result == nil || result.URL != "https://cdn.example.com/a" {
		t.Errorf("Wait() = %+v, want immediate hit", result)
	}
}

func TestService_Wait_PollsUntilReady(t *testing.T) {
	lk := &fakeLookuper{results: []*cacheengine.Result{nil, nil, {URL: "https://cdn.example.com/ready"}}}
	s := New(lk, Config{WaitTimeout: time.Second, PollInterval: 10 * time.Millisecond})

	result, err := s.Wait(context.Background(), "abc", model.UASTC, model.MP4)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result == nil {
		t.Fatal("Wait() = nil, want a result after polling")
	}
}

func TestService_Wait_TimesOut(t *testing.T) {
	lk := &fakeLookuper{results: []*cacheengine.Result{nil}}
	s := New(lk, Config{WaitTimeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	result, err := s.Wait(context.Background(), "abc", model.UASTC, model.MP4)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != nil {
		t.Errorf("Wait() = %+v, want nil after timeout", result)
	}
}

func TestService_Wait_CoalescesConcurrentCallers(t *testing.T) {
	lk := &fakeLookuper{results: []*cacheengine.Result{nil, nil, nil, {URL: "https://cdn.example.com/ready"}}}
	s := New(lk, Config{WaitTimeout: time.Second, PollInterval: 10 * time.Millisecond})

	const n = 20
	results := make([]*cacheengine.Result, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := s.Wait(context.Background(), "shared-hash", model.UASTC, model.MP4)
			if err != nil {
				t.Errorf("Wait: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r == nil || r.URL != "https://cdn.example.com/ready" {
			t.Errorf("caller %d got %+v, want shared ready result", i, r)
		}
	}

	if calls := atomic.LoadInt32(&lk.calls); calls > n {
		t.Errorf("lookup called %d times for %d concurrent waiters on the same key, want a single poller's worth", calls, n)
	}
}
