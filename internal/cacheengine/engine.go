// Package cacheengine is the system of record for "does a fresh
// artifact exist for this conversion, where is it, and is it due for
// revalidation?" (§4.1).
package cacheengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dcllabs/metamorph/internal/domain/converterrors"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/downloader"
	"github.com/dcllabs/metamorph/internal/infrastructure/kv"
	"github.com/dcllabs/metamorph/internal/infrastructure/objectstore"
)

// InFlightTTL is the recovery window for a stuck in-flight marker
// (§3), read by callers that need to mirror the same TTL (convqueue).
const InFlightTTL = 10 * time.Minute

// RefreshRequest is the fire-and-forget stale-cache hint Lookup emits
// (§4.1, consumed by internal/refresh).
type RefreshRequest struct {
	Hash        string
	URL         string
	ImageTarget model.ImageTarget
	VideoTarget model.VideoTarget
	// Force carries Lookup's forceRefresh argument through to
	// Revalidate, so a forced refresh on an already-fresh entry still
	// issues the HEAD instead of short-circuiting on freshness.
	Force bool
}

// RefreshEnqueuer accepts refresh hints without blocking the caller.
// Implemented by internal/refresh.Pipeline.
type RefreshEnqueuer interface {
	Enqueue(req RefreshRequest)
}

// Result is what Lookup returns for an existing cache record.
type Result struct {
	URL        string
	ETag       string
	Expired    bool
	Converting bool
	Format     string
}

// Config configures an Engine.
type Config struct {
	Version   int
	MinMaxAge time.Duration
}

// Engine implements Store/Lookup/Revalidate over a KV store, an object
// store, and the downloader used for revalidation HEAD requests.
type Engine struct {
	kv      kv.Store
	objects objectstore.Store // nil means NotConfigured (§7)
	dl      *downloader.Downloader
	refresh RefreshEnqueuer
	keys    keys
	minAge  time.Duration
}

// New creates an Engine. objects may be nil if the object store isn't
// wired yet; Store then fails with converterrors.ErrNotConfigured.
// refresh may be nil; wire it later with SetRefreshEnqueuer once it
// exists, since refresh.Pipeline itself depends on this Engine as its
// Revalidator and the two can't be constructed in one step.
func New(kvStore kv.Store, objects objectstore.Store, dl *downloader.Downloader, refresh RefreshEnqueuer, cfg Config) *Engine {
	return &Engine{
		kv:      kvStore,
		objects: objects,
		dl:      dl,
		refresh: refresh,
		keys:    keys{version: cfg.Version},
		minAge:  cfg.MinMaxAge,
	}
}

// SetRefreshEnqueuer wires the refresh hint sink after construction,
// breaking the Engine/refresh.Pipeline construction cycle (the
// pipeline's Revalidator is this same Engine).
func (e *Engine) SetRefreshEnqueuer(refresh RefreshEnqueuer) {
	e.refresh = refresh
}

// Store uploads localPath to the object store and writes the
// corresponding KV records (§4.1).
func (e *Engine) Store(ctx context.Context, hash, formatName string, class model.MediaClass, etag string, maxAge time.Duration, hasMaxAge bool, localPath string) error {
	if e.objects == nil {
		return converterrors.ErrNotConfigured
	}

	ext := extensionFromPath(localPath)
	contentType, ok := contentTypeForExtension(ext)
	if !ok {
		return converterrors.ErrUnsupportedExtension
	}

	objectKey := objectStoreKey(time.Now(), hash, formatName, ext)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open conversion output: %w", err)
	}
	defer f.Close()

	if err := e.objects.Upload(ctx, objectKey, f, contentType); err != nil {
		return converterrors.NewTransient("objectstore.Upload", err)
	}

	sanitizedAge, hasSanitizedAge := sanitizeMaxAge(maxAge, hasMaxAge, etag != "", e.minAge)

	batch := map[string]string{
		e.keys.objectKey(hash, formatName): objectKey,
		e.keys.mediaClassKey(hash):         class.FileTypeTag(),
	}
	if etag != "" {
		batch[e.keys.etagKey(hash, formatName)] = etag
	}
	if !hasSanitizedAge {
		batch[e.keys.freshnessKey(hash, formatName)] = "1"
	}

	if err := e.kv.MSet(ctx, batch); err != nil {
		return converterrors.NewTransient("kv.MSet", err)
	}

	if hasSanitizedAge {
		if err := e.kv.SetTTL(ctx, e.keys.freshnessKey(hash, formatName), "1", sanitizedAge); err != nil {
			return converterrors.NewTransient("kv.SetTTL", err)
		}
	}

	return nil
}

// Lookup resolves the current cache record for a conversion identity,
// firing an asynchronous refresh hint when the entry is expired (and
// not already converting) or forceRefresh is set. sourceURL may be
// empty if the caller doesn't have it; no refresh is enqueued in that
// case.
func (e *Engine) Lookup(ctx context.Context, hash string, imageTarget model.ImageTarget, videoTarget model.VideoTarget, forceRefresh bool, sourceURL string) (*Result, error) {
	classValue, found, err := e.kv.Get(ctx, e.keys.mediaClassKey(hash))
	if err != nil {
		return nil, converterrors.NewTransient("kv.Get", err)
	}
	if !found {
		return nil, nil
	}
	class := model.MediaClass(classValue)

	id := model.Identity{Hash: hash, ImageTarget: imageTarget, VideoTarget: videoTarget}
	formatName, ok := id.FormatName(class)
	if !ok {
		return nil, nil
	}

	results, err := e.kv.MGet(ctx,
		e.keys.objectKey(hash, formatName),
		e.keys.etagKey(hash, formatName),
		e.keys.freshnessKey(hash, formatName),
		e.keys.inFlightKey(id),
	)
	if err != nil {
		return nil, converterrors.NewTransient("kv.MGet", err)
	}
	objectResult, etagResult, freshnessResult, inFlightResult := results[0], results[1], results[2], results[3]

	if !objectResult.Found {
		return nil, nil
	}

	result := &Result{
		URL:        e.objects.PublicURL(objectResult.Value),
		ETag:       etagResult.Value,
		Expired:    !freshnessResult.Found,
		Converting: inFlightResult.Found,
		Format:     formatName,
	}

	shouldRefresh := (result.Expired && !result.Converting) || forceRefresh
	if shouldRefresh && sourceURL != "" && e.refresh != nil {
		e.refresh.Enqueue(RefreshRequest{
			Hash:        hash,
			URL:         sourceURL,
			ImageTarget: imageTarget,
			VideoTarget: videoTarget,
			Force:       forceRefresh,
		})
	}

	return result, nil
}

// Revalidate returns true iff the cached artifact for this identity may
// be considered fresh after this call (§4.1).
func (e *Engine) Revalidate(ctx context.Context, hash, url string, imageTarget model.ImageTarget, videoTarget model.VideoTarget, forceRefresh bool) (bool, error) {
	classValue, found, err := e.kv.Get(ctx, e.keys.mediaClassKey(hash))
	if err != nil {
		return false, converterrors.NewTransient("kv.Get", err)
	}
	if !found {
		return false, nil
	}
	class := model.MediaClass(classValue)

	id := model.Identity{Hash: hash, ImageTarget: imageTarget, VideoTarget: videoTarget}
	formatName, ok := id.FormatName(class)
	if !ok {
		return false, nil
	}

	_, found, err = e.kv.Get(ctx, e.keys.objectKey(hash, formatName))
	if err != nil {
		return false, converterrors.NewTransient("kv.Get", err)
	}
	if !found {
		return false, nil
	}

	_, freshnessFound, err := e.kv.Get(ctx, e.keys.freshnessKey(hash, formatName))
	if err != nil {
		return false, converterrors.NewTransient("kv.Get", err)
	}
	expired := !freshnessFound

	if !forceRefresh && !expired {
		return true, nil
	}

	etag, _, err := e.kv.Get(ctx, e.keys.etagKey(hash, formatName))
	if err != nil {
		return false, converterrors.NewTransient("kv.Get", err)
	}

	res, err := e.dl.Revalidate(ctx, url, etag)
	if err != nil {
		slog.Warn("revalidation HEAD failed", slog.String("hash", hash), slog.String("error", err.Error()))
		return false, nil
	}
	if !res.NotModified {
		return false, nil
	}

	sanitizedAge, hasSanitizedAge := sanitizeMaxAge(res.MaxAge, res.HasMaxAge, etag != "", e.minAge)
	var setErr error
	if hasSanitizedAge {
		setErr = e.kv.SetTTL(ctx, e.keys.freshnessKey(hash, formatName), "1", sanitizedAge)
	} else {
		setErr = e.kv.Set(ctx, e.keys.freshnessKey(hash, formatName), "1")
	}
	if setErr != nil {
		return false, converterrors.NewTransient("kv.SetTTL", setErr)
	}

	return true, nil
}
