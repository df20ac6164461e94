// Package worker implements the worker pool of §4.3: N concurrent
// consumers draining the conversion queue, each running a single job
// through download → detect → encode → store, and recording an
// operational conversion_attempts row for every outcome.
package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/convqueue"
	"github.com/dcllabs/metamorph/internal/domain/converterrors"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/downloader"
	"github.com/dcllabs/metamorph/internal/infrastructure/metrics"
	"github.com/dcllabs/metamorph/internal/infrastructure/postgres"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
	mediaexec "github.com/dcllabs/metamorph/internal/mediatools/exec"
	mediaimage "github.com/dcllabs/metamorph/internal/mediatools/image"
	"github.com/dcllabs/metamorph/internal/mediatype"
)

// DefaultNumWorkers is used when Config.NumWorkers is unset (§4.3:
// "default small, e.g. 5").
const DefaultNumWorkers = 5

// AuditRecorder persists one conversion_attempts row. Implemented by
// internal/infrastructure/postgres.AuditRepository; nil disables
// auditing entirely.
type AuditRecorder interface {
	Record(ctx context.Context, a postgres.Attempt) error
}

// Config configures a Pool.
type Config struct {
	NumWorkers int
	TempDir    string // per-worker download scratch space; "" means os.TempDir()
}

// Pool runs Config.NumWorkers concurrent consumers against a
// convqueue.Queue.
type Pool struct {
	cfg    Config
	queue  *convqueue.Queue
	dl     *downloader.Downloader
	runner *mediaexec.Runner
	engine *cacheengine.Engine
	audit  AuditRecorder
}

// New creates a Pool. audit may be nil to disable attempt logging.
func New(q *convqueue.Queue, dl *downloader.Downloader, runner *mediaexec.Runner, engine *cacheengine.Engine, audit AuditRecorder, cfg Config) *Pool {
	return &Pool{queue: q, dl: dl, runner: runner, engine: engine, audit: audit, cfg: cfg}
}

// Run blocks, running Config.NumWorkers consumers until ctx is
// cancelled. A consumer stops dequeuing once ctx is cancelled; the job
// it is processing at that moment runs under the same ctx, so its
// download or encode is aborted and the job is recorded as failed.
func (p *Pool) Run(ctx context.Context) {
	n := p.cfg.NumWorkers
	if n <= 0 {
		n = DefaultNumWorkers
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			p.consume(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, id int) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("worker dequeue failed", slog.Int("worker", id), slog.String("error", err.Error()))
			continue
		}
		p.process(ctx, job)
	}
}

// process runs one job through the Dequeued → Downloading → Converted →
// Stored → Done state machine; any step's failure logs, records the
// attempt, and returns -- abandoning the job to the in-flight TTL
// rather than retrying (§4.3).
func (p *Pool) process(ctx context.Context, job queue.Job) {
	started := time.Now()
	attempt := postgres.Attempt{Hash: job.Hash, URL: job.URL, StartedAt: started}

	workDir, err := os.MkdirTemp(p.cfg.TempDir, "metamorph-job-*")
	if err != nil {
		p.fail(ctx, attempt, started, err)
		return
	}
	defer os.RemoveAll(workDir)

	dlResult, err := p.dl.Download(ctx, workDir, job.Hash, job.URL)
	if err != nil {
		p.fail(ctx, attempt, started, err)
		return
	}

	class, err := mediatype.DetectFile(dlResult.Path)
	if err != nil {
		p.fail(ctx, attempt, started, err)
		return
	}
	attempt.MediaClass = string(class)

	id := job.Identity()
	formatName, ok := id.FormatName(class)
	if !ok {
		p.fail(ctx, attempt, started, converterrors.ErrUnknownFileType)
		return
	}
	attempt.FormatName = formatName

	outPath, err := p.convert(ctx, workDir, dlResult.Path, class, job.ImageFormat, job.VideoFormat)
	if err != nil {
		p.fail(ctx, attempt, started, err)
		return
	}

	if err := p.engine.Store(ctx, job.Hash, formatName, class, dlResult.ETag, dlResult.MaxAge, dlResult.HasMaxAge, outPath); err != nil {
		p.fail(ctx, attempt, started, err)
		return
	}

	finished := time.Now()
	p.observeDuration(class, formatName, dlResult.Path, finished.Sub(started))
	p.record(ctx, attempt, postgres.OutcomeStored, "", started, finished)
}

// convert dispatches on media class to produce the single output file
// that Store will upload (§4.3 steps 4-6).
func (p *Pool) convert(ctx context.Context, workDir, inputPath string, class model.MediaClass, imageTarget model.ImageTarget, videoTarget model.VideoTarget) (string, error) {
	switch class {
	case model.StaticImage:
		pngPath := filepath.Join(workDir, "resized.png")
		if err := mediaimage.ResizeToFitAndEncodePNG(inputPath, pngPath); err != nil {
			return "", err
		}
		outPath := filepath.Join(workDir, "out.ktx2")
		if err := p.runner.EncodeKTX(ctx, pngPath, outPath, imageTarget); err != nil {
			return "", err
		}
		return outPath, nil

	case model.MotionImage:
		frameDir := filepath.Join(workDir, "frames")
		if err := os.Mkdir(frameDir, 0o755); err != nil {
			return "", err
		}
		pattern, err := p.runner.DecodeFrames(ctx, inputPath, frameDir)
		if err != nil {
			return "", err
		}
		outPath := filepath.Join(workDir, "out"+videoExtension(videoTarget))
		if err := p.runner.EncodeVideo(ctx, pattern, outPath, videoTarget, mediaexec.FrameRate); err != nil {
			return "", err
		}
		return outPath, nil

	case model.MotionVideo:
		outPath := filepath.Join(workDir, "out"+videoExtension(videoTarget))
		if err := p.runner.EncodeVideo(ctx, inputPath, outPath, videoTarget, 0); err != nil {
			return "", err
		}
		return outPath, nil

	default:
		return "", converterrors.ErrUnknownFileType
	}
}

func videoExtension(target model.VideoTarget) string {
	if target == model.OGV {
		return ".ogv"
	}
	return ".mp4"
}

func (p *Pool) observeDuration(class model.MediaClass, formatName, inputPath string, duration time.Duration) {
	size := int64(0)
	if info, err := os.Stat(inputPath); err == nil {
		size = info.Size()
	}
	motion := class == model.MotionImage || class == model.MotionVideo
	metrics.HistogramFor(class.FileTypeTag(), motion).
		WithLabelValues(metrics.SizeBucket(size), formatName).
		Observe(duration.Seconds())
}

func (p *Pool) fail(ctx context.Context, attempt postgres.Attempt, started time.Time, err error) {
	slog.Warn("conversion job failed",
		slog.String("hash", attempt.Hash),
		slog.String("error", err.Error()))
	p.record(ctx, attempt, postgres.OutcomeFailed, err.Error(), started, time.Now())
}

func (p *Pool) record(ctx context.Context, attempt postgres.Attempt, outcome postgres.Outcome, errText string, started, finished time.Time) {
	if p.audit == nil {
		return
	}
	attempt.Outcome = outcome
	attempt.Error = errText
	attempt.StartedAt = started
	attempt.FinishedAt = finished
	attempt.Duration = finished.Sub(started)
	if err := p.audit.Record(ctx, attempt); err != nil {
		slog.Warn("failed to record conversion attempt", slog.String("error", err.Error()))
	}
}
