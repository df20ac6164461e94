// Package convert implements the Convert endpoint composition of §4.7:
// it wires the cache engine, conversion queue, and waiter service
// together behind the single Convert operation the HTTP handler calls.
package convert

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
)

// Outcome classifies the result of a Convert call for the HTTP handler
// to map onto a status code (§6).
type Outcome int

const (
	// Redirect means the caller should 302 to Result.Location.
	Redirect Outcome = iota
	// Accepted means the conversion was enqueued but wait=true timed
	// out before it completed; the caller should 202.
	Accepted
	// BadRequest means url failed validation; the caller should 400.
	BadRequest
)

// Result is the outcome of a Convert call.
type Result struct {
	Outcome  Outcome
	Location string // meaningful only when Outcome == Redirect
}

// Lookuper is the subset of cacheengine.Engine Convert depends on.
type Lookuper interface {
	Lookup(ctx context.Context, hash string, imageTarget model.ImageTarget, videoTarget model.VideoTarget, forceRefresh bool, sourceURL string) (*cacheengine.Result, error)
}

// Enqueuer is the subset of convqueue.Queue Convert depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Waiter is the subset of waiter.Service Convert depends on.
type Waiter interface {
	Wait(ctx context.Context, hash string, imageTarget model.ImageTarget, videoTarget model.VideoTarget) (*cacheengine.Result, error)
}

// Service composes the cache engine, conversion queue, and waiter into
// the single operation the HTTP handler exposes.
type Service struct {
	engine Lookuper
	queue  Enqueuer
	waiter Waiter
}

// New creates a Service.
func New(engine Lookuper, q Enqueuer, w Waiter) *Service {
	return &Service{engine: engine, queue: q, waiter: w}
}

// Convert runs §4.7's numbered steps. It never returns an error to the
// caller -- lookup/enqueue failures degrade to redirecting at the
// original URL per §7's propagation policy -- except for a malformed
// rawURL, which is reported as Outcome == BadRequest.
func (s *Service) Convert(ctx context.Context, rawURL string, imageTarget model.ImageTarget, videoTarget model.VideoTarget, wait, forceRefresh bool) Result {
	if !isAbsoluteHTTPURL(rawURL) {
		return Result{Outcome: BadRequest}
	}

	hash := model.Hash(rawURL)

	result, err := s.engine.Lookup(ctx, hash, imageTarget, videoTarget, forceRefresh, rawURL)
	if err != nil {
		slog.Warn("cache lookup failed, falling back to original url", slog.String("hash", hash), slog.String("error", err.Error()))
		return Result{Outcome: Redirect, Location: rawURL}
	}

	if result != nil {
		return Result{Outcome: Redirect, Location: result.URL}
	}

	job := queue.Job{Hash: hash, URL: rawURL, ImageFormat: imageTarget, VideoFormat: videoTarget}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		slog.Warn("enqueue failed, falling back to original url", slog.String("hash", hash), slog.String("error", err.Error()))
	}

	if !wait {
		return Result{Outcome: Redirect, Location: rawURL}
	}

	waited, err := s.waiter.Wait(ctx, hash, imageTarget, videoTarget)
	if err != nil {
		slog.Warn("wait failed", slog.String("hash", hash), slog.String("error", err.Error()))
	}
	if waited != nil {
		return Result{Outcome: Redirect, Location: waited.URL}
	}
	return Result{Outcome: Accepted}
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
