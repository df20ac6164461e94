// Package exec invokes the ffmpeg and toktx subprocesses that back the
// KTX texture and video encoding paths of §4.3.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/dcllabs/metamorph/internal/domain/converterrors"
	"github.com/dcllabs/metamorph/internal/domain/model"
)

// Config holds the paths to the media tool binaries.
type Config struct {
	FFmpegPath string
	ToktxPath  string
}

// DefaultConfig assumes both tools are on PATH.
func DefaultConfig() Config {
	return Config{FFmpegPath: "ffmpeg", ToktxPath: "toktx"}
}

// Runner invokes the ffmpeg/toktx subprocesses.
type Runner struct {
	cfg Config
}

// New creates a Runner.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// ktxFlags returns the toktx flags for each image target (§4.3 step 4).
func ktxFlags(target model.ImageTarget) ([]string, error) {
	switch target {
	case model.UASTC:
		return []string{"--t2", "--uastc", "--genmipmap", "--zcmp", "3", "--lower_left_maps_to_s0t0", "--assign_oetf", "srgb"}, nil
	case model.ASTC:
		return []string{"--t2", "--encode", "astc", "--astc_blk_d", "8x8", "--genmipmap", "--assign_oetf", "srgb"}, nil
	case model.ASTCHigh:
		return []string{"--t2", "--encode", "astc", "--astc_blk_d", "4x4", "--genmipmap", "--assign_oetf", "srgb"}, nil
	default:
		return nil, fmt.Errorf("unknown image target: %v", target)
	}
}

// EncodeKTX invokes toktx on inputPNG, producing a .ktx2 file at
// outputPath.
func (r *Runner) EncodeKTX(ctx context.Context, inputPNG, outputPath string, target model.ImageTarget) error {
	flags, err := ktxFlags(target)
	if err != nil {
		return err
	}
	args := append(append([]string{}, flags...), outputPath, inputPNG)
	return r.run(ctx, r.cfg.ToktxPath, args)
}

// videoFilter is the shared downscale-to-fit filter used by both
// codecs (§4.3 step 6: "never upscale").
const videoFilter = "scale='min(512,iw)':-1:flags=lanczos"

// EncodeVideo invokes ffmpeg on inputPath (a single video file, or a
// frame-sequence pattern for MotionImage per §4.3 step 5), producing an
// MP4 or OGV file at outputPath. inputFramerate is only meaningful for
// frame-sequence input; pass 0 for direct video input.
func (r *Runner) EncodeVideo(ctx context.Context, inputPath, outputPath string, target model.VideoTarget, inputFramerate int) error {
	var args []string
	if inputFramerate > 0 {
		args = append(args, "-framerate", fmt.Sprint(inputFramerate))
	}
	args = append(args, "-i", inputPath)

	switch target {
	case model.MP4:
		args = append(args,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-crf", "28",
			"-vf", videoFilter,
			"-preset", "veryfast",
			"-movflags", "+faststart",
			"-y", outputPath,
		)
	case model.OGV:
		args = append(args,
			"-c:v", "libtheora",
			"-pix_fmt", "yuv420p",
			"-qscale:v", "7",
			"-vf", videoFilter,
			"-an",
			"-y", outputPath,
		)
	default:
		return fmt.Errorf("unknown video target: %v", target)
	}

	return r.run(ctx, r.cfg.FFmpegPath, args)
}

// FrameRate is the input framerate assumed for animated-image frame
// sequences fed back into EncodeVideo (§4.3 step 5).
const FrameRate = 10

// DecodeFrames extracts inputPath's frames as a numbered PNG sequence
// under frameDir (frame_%05d.png), coalescing each animation frame's
// delta against its predecessor into a complete image -- ffmpeg's
// demuxer already does this for animated WebP/GIF, so a single
// subprocess call covers the "decode all frames" step of §4.3 step 5.
func (r *Runner) DecodeFrames(ctx context.Context, inputPath, frameDir string) (pattern string, err error) {
	pattern = frameDir + "/frame_%05d.png"
	args := []string{"-i", inputPath, "-vsync", "0", "-y", pattern}
	if err := r.run(ctx, r.cfg.FFmpegPath, args); err != nil {
		return "", err
	}
	return pattern, nil
}

// run executes name with args, draining stdout/stderr concurrently with
// Wait to avoid pipe-buffer deadlock (§5), and mapping a non-zero exit
// to converterrors.ErrEncodeFailed.
func (r *Runner) run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attach stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	var outBuf, errBuf bytes.Buffer
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(&outBuf, stdout) }()
	go func() { defer wg.Done(); io.Copy(&errBuf, stderr) }()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%w: %s exited: %v: %s", converterrors.ErrEncodeFailed, name, err, errBuf.String())
	}

	return nil
}
