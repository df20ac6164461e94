// Package downloader implements the DL collaborator: capped streaming
// downloads for the worker pool and conditional HEAD revalidation for
// the cache engine (§4.1, §4.3, §5).
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dcllabs/metamorph/internal/domain/converterrors"
)

// Result describes a completed download.
type Result struct {
	Path      string // local temp file path
	ETag      string
	MaxAge    time.Duration // zero value means "absent"; HasMaxAge reports which
	HasMaxAge bool
}

// RevalidateResult is the outcome of a conditional HEAD request.
type RevalidateResult struct {
	NotModified bool
	MaxAge      time.Duration
	HasMaxAge   bool
}

// Downloader streams source URLs to disk under a byte cap and performs
// conditional revalidation HEAD requests.
type Downloader struct {
	client      *http.Client
	maxBytes    int64
	headTimeout time.Duration
}

// Config configures a Downloader.
type Config struct {
	// MaxBytes caps the size of a single download; exceeding it aborts
	// the stream and deletes the partial file (§5).
	MaxBytes int64
	// HEADTimeout bounds the revalidation HEAD request (§5: "should
	// apply a short bounded one (≤ 10s)").
	HEADTimeout time.Duration
}

// New creates a Downloader. A zero HEADTimeout defaults to 10 seconds.
func New(cfg Config) *Downloader {
	timeout := cfg.HEADTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Downloader{
		client:      &http.Client{},
		maxBytes:    cfg.MaxBytes,
		headTimeout: timeout,
	}
}

// Download streams url's body to a new temp file under dir, named after
// hash, enforcing the configured byte cap. The caller owns the returned
// file and must remove it.
func (d *Downloader) Download(ctx context.Context, dir, hash, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", converterrors.ErrDownloadFailed, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", converterrors.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: status %d", converterrors.ErrDownloadFailed, resp.StatusCode)
	}

	f, err := os.CreateTemp(dir, hash+"-*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %v", converterrors.ErrDownloadFailed, err)
	}

	limited := &countingReader{r: resp.Body, limit: d.maxBytes}
	_, copyErr := io.Copy(f, limited)
	closeErr := f.Close()

	if copyErr != nil || limited.exceeded {
		os.Remove(f.Name())
		if limited.exceeded {
			return Result{}, converterrors.ErrDownloadTooLarge
		}
		return Result{}, fmt.Errorf("%w: %v", converterrors.ErrDownloadFailed, copyErr)
	}
	if closeErr != nil {
		os.Remove(f.Name())
		return Result{}, fmt.Errorf("%w: close temp file: %v", converterrors.ErrDownloadFailed, closeErr)
	}

	maxAge, hasMaxAge := parseMaxAge(resp.Header.Get("Cache-Control"))
	return Result{
		Path:      f.Name(),
		ETag:      resp.Header.Get("ETag"),
		MaxAge:    maxAge,
		HasMaxAge: hasMaxAge,
	}, nil
}

// Revalidate issues a conditional HEAD request carrying If-None-Match
// when etag is non-empty (§4.1 Revalidate).
func (d *Downloader) Revalidate(ctx context.Context, url, etag string) (RevalidateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return RevalidateResult{}, fmt.Errorf("%w: build request: %v", converterrors.ErrDownloadFailed, err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return RevalidateResult{}, fmt.Errorf("%w: %v", converterrors.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotModified {
		return RevalidateResult{}, nil
	}

	maxAge, hasMaxAge := parseMaxAge(resp.Header.Get("Cache-Control"))
	return RevalidateResult{NotModified: true, MaxAge: maxAge, HasMaxAge: hasMaxAge}, nil
}

// parseMaxAge extracts max-age=N from a Cache-Control header. "no-cache"
// maps to a present max-age of zero (§4.3 step 2), which the sanitizer
// then raises to MinMaxAge.
func parseMaxAge(cacheControl string) (time.Duration, bool) {
	if cacheControl == "" {
		return 0, false
	}

	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "no-cache" || directive == "no-store" {
			return 0, true
		}
		if after, ok := strings.CutPrefix(directive, "max-age="); ok {
			seconds, err := strconv.Atoi(after)
			if err != nil {
				continue
			}
			if seconds < 0 {
				seconds = 0
			}
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

// countingReader wraps an io.Reader, tripping exceeded once more than
// limit bytes have been read. A limit <= 0 disables the cap.
type countingReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, io.EOF
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.limit > 0 && c.read > c.limit {
		c.exceeded = true
		return n, io.EOF
	}
	return n, err
}
