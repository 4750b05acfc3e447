// Package detect wraps an external frame-differencing tool (ffprobe's
// scene filter) as a streaming scene-cut detector. Cuts are delivered
// incrementally while the subprocess runs, so callers can track
// progress and probe for duplicates mid-analysis.
package detect

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

var (
	// ErrTimeout reports that the detector subprocess was forcibly
	// terminated after exceeding its run budget.
	ErrTimeout = errors.New("scene detection timed out")

	// ErrOutsideScratch reports a video path that escapes the scratch
	// sandbox. Upstream object keys are attacker-controlled, so every
	// path is checked before a subprocess sees it.
	ErrOutsideScratch = errors.New("video path outside scratch directory")
)

// Detector is the scene-cut detection contract the orchestrator runs
// against. FFprobeDetector is the production implementation; tests use
// scripted fakes.
type Detector interface {
	// ProbeDuration returns a best-effort total duration estimate in
	// seconds, used to normalise progress.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// StreamCuts runs the detector subprocess and invokes onCut for
	// each cut timestamp as it is discovered, in received order.
	// Cancelling ctx kills the subprocess; cuts already delivered
	// remain valid whatever error is returned.
	StreamCuts(ctx context.Context, path string, onCut func(float64)) error
}

// Config holds the detector's configuration.
type Config struct {
	FFprobePath    string        // path to ffprobe binary; empty = auto-detect
	ScratchDir     string        // sandbox all analysed files must live in
	SceneThreshold float64       // frame-difference score treated as a cut
	ProbeTimeout   time.Duration // timeout for the duration probe
	DetectTimeout  time.Duration // total run budget for cut detection
	Logger         *slog.Logger
}

// FFprobeDetector shells out to ffprobe with the lavfi scene filter and
// parses cut timestamps from its streaming CSV output.
type FFprobeDetector struct {
	cfg     Config
	ffprobe string
	scratch string
}

func New(cfg Config) (*FFprobeDetector, error) {
	ffprobe := cfg.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	resolved, err := exec.LookPath(ffprobe)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}

	scratch, err := filepath.Abs(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("invalid scratch dir: %w", err)
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}

	if cfg.SceneThreshold <= 0 {
		cfg.SceneThreshold = 0.3
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 60 * time.Second
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 5 * time.Minute
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("scene detector initialised",
			"ffprobe", resolved,
			"scratch_dir", scratch,
			"threshold", cfg.SceneThreshold,
		)
	}

	return &FFprobeDetector{cfg: cfg, ffprobe: resolved, scratch: scratch}, nil
}

// checkPath rejects paths outside the scratch sandbox or missing files.
func (d *FFprobeDetector) checkPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid video path: %w", err)
	}
	if abs != d.scratch && !strings.HasPrefix(abs, d.scratch+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideScratch, abs)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("video file not accessible: %w", err)
	}
	return abs, nil
}

func (d *FFprobeDetector) ProbeDuration(ctx context.Context, path string) (float64, error) {
	abs, err := d.checkPath(path)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		abs)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("duration probe: %w", ErrTimeout)
		}
		return 0, fmt.Errorf("duration probe failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("no usable duration in probe output %q", stdout.String())
	}
	return duration, nil
}

func (d *FFprobeDetector) StreamCuts(ctx context.Context, path string, onCut func(float64)) error {
	abs, err := d.checkPath(path)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.DetectTimeout)
	defer cancel()

	// The select filter emits one packet per detected cut; pts_time
	// lines stream to stdout as decoding advances.
	cmd := exec.CommandContext(runCtx, d.ffprobe,
		"-f", "lavfi",
		"-i", fmt.Sprintf("movie='%s',select=gt(scene\\,%g)", abs, d.cfg.SceneThreshold),
		"-show_entries", "packet=pts_time",
		"-of", "csv=p=0",
		"-v", "quiet")

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cannot open detector stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cannot start detector: %w", err)
	}

	cuts := 0
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Some builds emit trailing fields; the timestamp is first.
		if i := strings.IndexByte(line, ','); i >= 0 {
			line = line[:i]
		}
		ts, err := strconv.ParseFloat(line, 64)
		if err != nil || ts < 0 {
			continue
		}
		cuts++
		onCut(ts)
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if d.cfg.Logger != nil {
		d.cfg.Logger.Info("detector run finished",
			"cuts", cuts,
			"duration_ms", elapsed.Milliseconds(),
			"error", waitErr != nil,
		)
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w after %s", ErrTimeout, d.cfg.DetectTimeout)
	case ctx.Err() != nil:
		// Killed by the caller (early stop); not a detector failure.
		return ctx.Err()
	case waitErr != nil:
		return fmt.Errorf("detector exited: %w (stderr: %s)", waitErr, truncate(stderrBuf.String(), 512))
	case scanErr != nil:
		// A clean exit after a broken read still means the cut list may
		// be truncated.
		return fmt.Errorf("detector output read failed: %w", scanErr)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
