// Package analysis drives one analysis session end-to-end: download,
// scene detection, incremental duplicate probing, persistence and
// cleanup. Sessions run concurrently, one goroutine each, with all
// shared state living in the session store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tvidz/inspector/internal/detect"
	"github.com/tvidz/inspector/internal/fetch"
	"github.com/tvidz/inspector/internal/logging"
	"github.com/tvidz/inspector/internal/match"
	"github.com/tvidz/inspector/internal/session"
	"github.com/tvidz/inspector/internal/video"
)

// maxInFlightProgress caps progress while the detector is still
// running; only a terminal done forces 1.0.
const maxInFlightProgress = 0.99

// Handle is returned for every launched session so callers can await or
// cancel it. Nothing in the service requires joining a handle.
type Handle struct {
	SessionID string
	done      chan struct{}
	cancel    context.CancelFunc
}

// Done is closed once the session has reached a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the session ends or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel terminates the session's detector subprocess. The session
// still reaches a terminal state through the normal exit path.
func (h *Handle) Cancel() {
	h.cancel()
}

// Service is the analysis orchestrator.
type Service struct {
	sessions *session.Store
	repo     video.Repository
	detector detect.Detector
	index    *match.Index
	fetcher  fetch.Fetcher
	logger   *slog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewService(sessions *session.Store, repo video.Repository, detector detect.Detector, index *match.Index, fetcher fetch.Fetcher, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sessions:   sessions,
		repo:       repo,
		detector:   detector,
		index:      index,
		fetcher:    fetcher,
		logger:     logger,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Close cancels every in-flight session. Used at shutdown.
func (s *Service) Close() {
	s.rootCancel()
}

// Sessions exposes the session store for status readers.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// AnalyzeObject starts analysis for an uploaded object. The download
// happens inside the session goroutine so fetch failures surface as
// session errors, not trigger errors.
func (s *Service) AnalyzeObject(bucket, key string) (*Handle, error) {
	filename := filepath.Base(strings.ReplaceAll(key, "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("object key %q has no usable filename", key)
	}
	return s.launch(filename, bucket, key, "")
}

// AnalyzeFile starts analysis for a file already inside the scratch
// sandbox. The service takes ownership of the file and removes it when
// the session ends.
func (s *Service) AnalyzeFile(filename, localPath string) (*Handle, error) {
	if filename == "" {
		return nil, errors.New("filename is required")
	}
	return s.launch(filename, "", "", localPath)
}

func (s *Service) launch(filename, bucket, key, localPath string) (*Handle, error) {
	id := session.NewID()
	if err := s.sessions.Create(id, filename); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.rootCtx)
	h := &Handle{SessionID: id, done: make(chan struct{}), cancel: cancel}

	if s.logger != nil {
		s.logger.Info("analysis session created", "session_id", id, "filename", filename)
	}

	go s.run(runCtx, h, filename, bucket, key, localPath)
	return h, nil
}

// run owns one session from launch to terminal state. Every exit path
// releases the scratch file and the detector subprocess, and leaves the
// session in exactly one of done or error.
func (s *Service) run(ctx context.Context, h *Handle, filename, bucket, key, localPath string) {
	defer close(h.done)
	defer h.cancel()

	logger := s.logger
	if logger != nil {
		logger = logging.WithSessionID(logger, h.SessionID)
	}

	path := localPath
	defer func() {
		if path != "" {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) && logger != nil {
				logger.Warn("failed to remove scratch file", "path", logging.SanitizePath(path), "error", err)
			}
		}
	}()

	if path == "" {
		downloaded, err := s.fetcher.Fetch(ctx, bucket, key)
		if err != nil {
			s.fail(h.SessionID, logger, fmt.Errorf("download failed: %w", err))
			return
		}
		path = downloaded
	}

	s.sessions.SetAnalyzing(h.SessionID)

	// Best-effort: without a duration estimate progress stays at zero
	// until the session completes.
	var duration float64
	if d, err := s.detector.ProbeDuration(ctx, path); err != nil {
		if logger != nil {
			logger.Warn("duration probe failed, progress will be coarse", "error", err)
		}
	} else {
		duration = d
	}

	detectCtx, stopDetector := context.WithCancel(ctx)
	defer stopDetector()

	var (
		cuts      []float64
		matches   []match.Match
		earlyStop bool
		probeOK   bool
	)

	onCut := func(ts float64) {
		if earlyStop {
			return
		}
		cuts = append(cuts, ts)
		s.sessions.AppendCut(h.SessionID, ts)

		if duration > 0 {
			progress := ts / duration
			if progress > maxInFlightProgress {
				progress = maxInFlightProgress
			}
			s.sessions.SetProgress(h.SessionID, progress)
		}

		found, err := s.index.Probe(ctx, cuts)
		if err != nil {
			// Degraded interval; retried on the next cut.
			if logger != nil {
				logger.Warn("duplicate probe failed, skipping interval", "error", err)
			}
			return
		}
		probeOK = true
		if len(found) == 0 {
			return
		}

		// Duplicate confirmed: publish the names right away, then kill
		// the detector. The remaining cuts are not worth the compute.
		matches = found
		s.sessions.AddDuplicates(h.SessionID, matchNames(found))
		earlyStop = true
		if logger != nil {
			logger.Info("duplicate confirmed, stopping detector early",
				"cuts_seen", len(cuts),
				"matches", len(found),
			)
		}
		stopDetector()
	}

	err := s.detector.StreamCuts(detectCtx, path, onCut)

	if !earlyStop && err != nil {
		switch {
		case errors.Is(err, detect.ErrTimeout):
			s.fail(h.SessionID, logger, fmt.Errorf("detector timed out with %d cuts emitted: %w", len(cuts), err))
		case errors.Is(err, context.Canceled):
			s.fail(h.SessionID, logger, errors.New("analysis cancelled"))
		default:
			// Crash: partial cuts stay on the error snapshot for
			// diagnostics but a truncated list is never persisted.
			s.fail(h.SessionID, logger, fmt.Errorf("detector failed with %d cuts emitted: %w", len(cuts), err))
		}
		return
	}

	if !earlyStop {
		found, probeErr := s.index.Probe(ctx, cuts)
		switch {
		case probeErr != nil:
			if logger != nil {
				if probeOK {
					logger.Warn("final duplicate probe failed", "error", probeErr)
				} else {
					logger.Warn("duplicate checking degraded for entire session", "error", probeErr)
				}
			}
		case len(found) > 0:
			matches = found
			s.sessions.AddDuplicates(h.SessionID, matchNames(found))
		}
	}

	// A confirmed duplicate is persisted as its own row with the cuts
	// seen so far, linked to the strongest match. That keeps later
	// fragments matchable against this video too.
	duplicateOf := bestMatch(matches)
	if _, err := s.repo.InsertVideo(ctx, filename, cuts, duplicateOf); err != nil {
		// Results stay visible on the in-memory snapshot even though
		// they were not durably stored.
		s.fail(h.SessionID, logger, fmt.Errorf("failed to persist result: %w", err))
		return
	}

	s.sessions.Finish(h.SessionID, session.StatusDone, "")
	if logger != nil {
		logger.Info("analysis complete",
			"cuts", len(cuts),
			"duplicates", len(matches),
			"early_stop", earlyStop,
		)
	}
}

func (s *Service) fail(id string, logger *slog.Logger, err error) {
	s.sessions.Finish(id, session.StatusError, err.Error())
	if logger != nil {
		logger.Error("analysis failed", "error", err)
	}
}

func matchNames(matches []match.Match) []string {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Filename
	}
	return names
}

// bestMatch picks the stored video sharing the most cuts.
func bestMatch(matches []match.Match) *int64 {
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Count > best.Count {
			best = m
		}
	}
	return &best.VideoID
}
