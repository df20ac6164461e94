// Package waiter implements the waiter service of §4.5: it lets a
// caller block up to a configured timeout for a conversion to
// materialize, coalescing concurrent callers for the same identity into
// one polling loop via singleflight.
package waiter

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/infrastructure/metrics"
)

// DefaultWaitTimeout bounds how long Wait blocks before giving up
// (§4.5: "e.g. 20 s").
const DefaultWaitTimeout = 20 * time.Second

// DefaultPollInterval is the polling cadence (§4.5: "e.g. 100 ms").
const DefaultPollInterval = 100 * time.Millisecond

// Lookuper is the subset of cacheengine.Engine the waiter depends on.
type Lookuper interface {
	Lookup(ctx context.Context, hash string, imageTarget model.ImageTarget, videoTarget model.VideoTarget, forceRefresh bool, sourceURL string) (*cacheengine.Result, error)
}

// Config configures a Service.
type Config struct {
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Service collapses N concurrent Wait calls for the same identity into
// a single polling loop.
type Service struct {
	engine Lookuper
	sf     singleflight.Group
	cfg    Config
}

// New creates a Service. Zero-valued Config fields fall back to the
// package defaults.
func New(engine Lookuper, cfg Config) *Service {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Service{engine: engine, cfg: cfg}
}

// Wait blocks until a cache record exists for (hash, imageTarget,
// videoTarget) or the wait timeout elapses, returning nil in the latter
// case. Concurrent Wait calls for the same identity share one poller
// and its result (§4.5).
func (s *Service) Wait(ctx context.Context, hash string, imageTarget model.ImageTarget, videoTarget model.VideoTarget) (*cacheengine.Result, error) {
	key := hash + "|" + imageTarget.String() + "|" + videoTarget.String()

	v, err, shared := s.sf.Do(key, func() (any, error) {
		return s.poll(ctx, hash, imageTarget, videoTarget)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*cacheengine.Result), nil
}

// poll runs the single polling loop shared by every caller coalesced on
// the same key. It checks immediately, then on PollInterval ticks, and
// resolves to nil once WaitTimeout elapses.
func (s *Service) poll(ctx context.Context, hash string, imageTarget model.ImageTarget, videoTarget model.VideoTarget) (*cacheengine.Result, error) {
	if result, err := s.engine.Lookup(ctx, hash, imageTarget, videoTarget, false, ""); err != nil || result != nil {
		return result, err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(s.cfg.WaitTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := s.engine.Lookup(ctx, hash, imageTarget, videoTarget, false, "")
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
		case <-timeout.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
