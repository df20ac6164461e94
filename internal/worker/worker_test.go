package worker

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcllabs/metamorph/internal/cacheengine"
	"github.com/dcllabs/metamorph/internal/convqueue"
	"github.com/dcllabs/metamorph/internal/domain/model"
	"github.com/dcllabs/metamorph/internal/downloader"
	"github.com/dcllabs/metamorph/internal/infrastructure/kv"
	"github.com/dcllabs/metamorph/internal/infrastructure/objectstore"
	"github.com/dcllabs/metamorph/internal/infrastructure/postgres"
	"github.com/dcllabs/metamorph/internal/infrastructure/queue"
	mediaexec "github.com/dcllabs/metamorph/internal/mediatools/exec"
)

type recordingAuditor struct {
	attempts []postgres.Attempt
}

func (a *recordingAuditor) Record(_ context.Context, attempt postgres.Attempt) error {
	a.attempts = append(a.attempts, attempt)
	return nil
}

func newTestPool(t *testing.T, runnerCfg mediaexec.Config) (*Pool, *recordingAuditor) {
	t.Helper()

	store := kv.NewLocalStore()
	objects, err := objectstore.NewLocalStore(t.TempDir(), "file:///objects")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	dl := downloader.New(downloader.Config{MaxBytes: 10 << 20})
	engine := cacheengine.New(store, objects, dl, nil, cacheengine.Config{Version: 1, MinMaxAge: time.Minute})
	backend := queue.NewInProcessQueue()
	t.Cleanup(func() { backend.Close() })
	q := convqueue.New(store, backend, 1)
	runner := mediaexec.New(runnerCfg)
	auditor := &recordingAuditor{}

	pool := New(q, dl, runner, engine, auditor, Config{NumWorkers: 1, TempDir: t.TempDir()})
	return pool, auditor
}

func TestPool_Process_DownloadFailure(t *testing.T) {
	pool, auditor := newTestPool(t, mediaexec.DefaultConfig())

	job := queue.Job{Hash: "deadbeef", URL: "http://127.0.0.1:1/nope", ImageFormat: model.UASTC, VideoFormat: model.MP4}
	pool.process(context.Background(), job)

	if len(auditor.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(auditor.attempts))
	}
	if auditor.attempts[0].Outcome != postgres.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", auditor.attempts[0].Outcome)
	}
	if auditor.attempts[0].Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestPool_Process_UnknownFileType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a real media file, just garbage bytes"))
	}))
	defer srv.Close()

	pool, auditor := newTestPool(t, mediaexec.DefaultConfig())

	job := queue.Job{Hash: "abc123", URL: srv.URL, ImageFormat: model.UASTC, VideoFormat: model.MP4}
	pool.process(context.Background(), job)

	if len(auditor.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(auditor.attempts))
	}
	attempt := auditor.attempts[0]
	if attempt.Outcome != postgres.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", attempt.Outcome)
	}
	if attempt.MediaClass != "" {
		t.Errorf("media class = %q, want empty (detection never succeeded)", attempt.MediaClass)
	}
}

func TestPool_Process_EncodeFailureRecordsDetectedClass(t *testing.T) {
	// A complete, decodable PNG so the resize step succeeds and the
	// failure comes from EncodeKTX.
	var pngBytes bytes.Buffer
	if err := png.Encode(&pngBytes, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes.Bytes())
	}))
	defer srv.Close()

	// Point toktx at a binary that doesn't exist so EncodeKTX fails
	// deterministically without depending on the tool being installed.
	pool, auditor := newTestPool(t, mediaexec.Config{FFmpegPath: "ffmpeg", ToktxPath: "/nonexistent/toktx"})

	job := queue.Job{Hash: "abc123", URL: srv.URL, ImageFormat: model.UASTC, VideoFormat: model.MP4}
	pool.process(context.Background(), job)

	if len(auditor.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(auditor.attempts))
	}
	attempt := auditor.attempts[0]
	if attempt.Outcome != postgres.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", attempt.Outcome)
	}
	if attempt.MediaClass != string(model.StaticImage) {
		t.Errorf("media class = %q, want %q", attempt.MediaClass, model.StaticImage)
	}
	if attempt.FormatName != model.UASTC.String() {
		t.Errorf("format name = %q, want %q", attempt.FormatName, model.UASTC.String())
	}
}

func TestVideoExtension(t *testing.T) {
	tests := []struct {
		target model.VideoTarget
		want   string
	}{
		{model.MP4, ".mp4"},
		{model.OGV, ".ogv"},
	}
	for _, tt := range tests {
		if got := videoExtension(tt.target); got != tt.want {
			t.Errorf("videoExtension(%v) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
