package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/metrics"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultDeadline = 20 * time.Minute

	// outputIndexSuffix is the render backend's numbering of the first output
	outputIndexSuffix = "_00001"
)

// Outcome is how a watch ended
type Outcome string

const (
	OutcomeFound      Outcome = "found"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCanceled   Outcome = "canceled"
)

var (
	imageExts = map[string]string{
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
	}
	videoExts = map[string]string{
		".mp4": "video/mp4",
	}

	errAmbiguous = errors.New("ambiguous output match")
)

// ExpectedPaths returns the image and video paths the render backend is
// expected to write for prefix
func ExpectedPaths(outputDir, prefix string) (image, video string) {
	base := filepath.Join(outputDir, prefix+outputIndexSuffix)
	return base + ".png", base + ".mp4"
}

// JobStore is the subset of the registry the watcher needs
type JobStore interface {
	Get(id string) (domain.Job, error)
	Update(id string, p domain.Patch) (domain.Job, error)
	Annotate(id, warning string) (domain.Job, error)
}

// Config holds watcher timing and location
type Config struct {
	OutputDir string
	Interval  time.Duration
	Deadline  time.Duration
}

// Watcher polls the output directory for files produced for a job
type Watcher struct {
	store   JobStore
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a watcher; zero durations fall back to the defaults
func New(store JobStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// OutputDir returns the watched directory
func (w *Watcher) OutputDir() string {
	return w.cfg.OutputDir
}

// watch is the state of one job's polling loop
type watch struct {
	jobID     string
	start     time.Time
	logger    *slog.Logger
	warnedFor string
}

// Watch checks once immediately and then on every interval until an output
// file is found, the deadline passes, the job is finished by someone else,
// or ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, jobID string) Outcome {
	st := &watch{
		jobID:  jobID,
		start:  w.now(),
		logger: w.logger.With(slog.String("job_id", jobID)),
	}

	st.logger.Info("Output watcher started",
		slog.String("output_dir", w.cfg.OutputDir),
		slog.Duration("interval", w.cfg.Interval),
		slog.Duration("deadline", w.cfg.Deadline),
	)

	if outcome, done := w.check(st); done {
		return w.finish(st, outcome)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.finish(st, OutcomeCanceled)
		case <-ticker.C:
			if outcome, done := w.check(st); done {
				return w.finish(st, outcome)
			}
		}
	}
}

func (w *Watcher) finish(st *watch, outcome Outcome) Outcome {
	w.metrics.WatcherOutcome(string(outcome))
	st.logger.Info("Output watcher stopped",
		slog.String("outcome", string(outcome)),
		slog.Duration("elapsed", w.now().Sub(st.start)),
	)
	return outcome
}

// found describes one discovered output file
type found struct {
	path        string
	contentType string
	method      string
}

// check runs one polling step. It is safe to run more than once for the same
// job: completion goes through the registry, which accepts a single terminal
// transition.
func (w *Watcher) check(st *watch) (Outcome, bool) {
	job, err := w.store.Get(st.jobID)
	if err != nil {
		st.logger.Warn("Watched job disappeared", slog.String("error", err.Error()))
		return OutcomeSuperseded, true
	}
	if job.Status.IsTerminal() {
		return OutcomeSuperseded, true
	}

	var image, video *found
	if job.Metadata != nil {
		var entries []os.DirEntry
		entriesLoaded := false
		listing := func() []os.DirEntry {
			if !entriesLoaded {
				entries = w.readDir(st)
				entriesLoaded = true
			}
			return entries
		}

		image = w.locate(st, job.Metadata.ExpectedImagePath, job.Metadata.FilenamePrefix, imageExts, listing)
		video = w.locate(st, job.Metadata.ExpectedVideoPath, job.Metadata.FilenamePrefix, videoExts, listing)
	}

	if image != nil || video != nil {
		return w.complete(st, image, video)
	}

	if elapsed := w.now().Sub(st.start); elapsed >= w.cfg.Deadline {
		return w.timeout(st, job, elapsed)
	}

	return "", false
}

func (w *Watcher) complete(st *watch, image, video *found) (Outcome, bool) {
	patch := domain.Patch{Status: domain.StatusPtr(domain.StatusCompleted)}

	if image != nil {
		blob, err := readBlob(image)
		if err != nil {
			st.logger.Warn("Failed to read image output, will retry",
				slog.String("path", image.path),
				slog.String("error", err.Error()),
			)
			return "", false
		}
		patch.ImageResult = blob
		patch.ExpectedImagePath = domain.StringPtr(image.path)
	}

	if video != nil {
		blob, err := readBlob(video)
		if err != nil {
			st.logger.Warn("Failed to read video output, will retry",
				slog.String("path", video.path),
				slog.String("error", err.Error()),
			)
			return "", false
		}
		patch.VideoResult = blob
		patch.ExpectedVideoPath = domain.StringPtr(video.path)
	}

	if _, err := w.store.Update(st.jobID, patch); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrJobNotFound) {
			st.logger.Info("Job already finished by another writer")
			return OutcomeSuperseded, true
		}
		st.logger.Error("Failed to complete job", slog.String("error", err.Error()))
		return "", false
	}

	if image != nil {
		w.metrics.OutputFound("image", image.method)
	}
	if video != nil {
		w.metrics.OutputFound("video", video.method)
	}

	attrs := []any{}
	if image != nil {
		attrs = append(attrs, slog.String("image_path", image.path), slog.String("image_match", image.method))
	}
	if video != nil {
		attrs = append(attrs, slog.String("video_path", video.path), slog.String("video_match", video.method))
	}
	st.logger.Info("Output found, job completed", attrs...)

	return OutcomeFound, true
}

func (w *Watcher) timeout(st *watch, job domain.Job, elapsed time.Duration) (Outcome, bool) {
	prefix := ""
	if job.Metadata != nil {
		prefix = job.Metadata.FilenamePrefix
	}
	msg := fmt.Sprintf("output timeout: no output file for prefix %q after %s", prefix, w.cfg.Deadline)

	_, err := w.store.Update(st.jobID, domain.Patch{
		Status: domain.StatusPtr(domain.StatusFailed),
		Error:  domain.StringPtr(msg),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrJobNotFound) {
			return OutcomeSuperseded, true
		}
		st.logger.Error("Failed to mark job as timed out", slog.String("error", err.Error()))
		return "", false
	}

	st.logger.Warn("Output watcher deadline exceeded",
		slog.Duration("elapsed", elapsed),
		slog.String("prefix", prefix),
	)
	return OutcomeTimedOut, true
}

// locate probes the exact expected path and falls back to a prefix scan of
// the output directory
func (w *Watcher) locate(st *watch, expected, prefix string, exts map[string]string, listing func() []os.DirEntry) *found {
	if expected != "" {
		if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return &found{path: expected, contentType: contentTypeFor(expected, exts), method: "exact"}
		}
	}

	if prefix == "" {
		return nil
	}

	path, err := scan(w.cfg.OutputDir, prefix, exts, listing())
	if err != nil {
		if errors.Is(err, errAmbiguous) {
			w.warnAmbiguous(st, err)
		}
		return nil
	}
	if path == "" {
		return nil
	}
	return &found{path: path, contentType: contentTypeFor(path, exts), method: "scan"}
}

func (w *Watcher) warnAmbiguous(st *watch, err error) {
	msg := err.Error()
	if st.warnedFor == msg {
		return
	}
	st.warnedFor = msg
	st.logger.Warn("Refusing ambiguous output match", slog.String("error", msg))
	if _, annErr := w.store.Annotate(st.jobID, msg); annErr != nil {
		st.logger.Debug("Could not annotate job", slog.String("error", annErr.Error()))
	}
}

func (w *Watcher) readDir(st *watch) []os.DirEntry {
	entries, err := os.ReadDir(w.cfg.OutputDir)
	if err != nil {
		st.logger.Debug("Failed to list output directory",
			slog.String("output_dir", w.cfg.OutputDir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return entries
}

// scan returns the single file in entries that belongs to prefix and has one
// of exts. Names must continue with "_" after the prefix so that a prefix
// never claims another job's files. More than one match is an error.
func scan(dir, prefix string, exts map[string]string, entries []os.DirEntry) (string, error) {
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"_") {
			continue
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if info, err := entry.Info(); err != nil || info.Size() == 0 {
			continue
		}
		matches = append(matches, name)
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return filepath.Join(dir, matches[0]), nil
	default:
		return "", fmt.Errorf("%w: %d files match prefix %q (%s)", errAmbiguous, len(matches), prefix, strings.Join(matches, ", "))
	}
}

func contentTypeFor(path string, exts map[string]string) string {
	if ct, ok := exts[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func readBlob(f *found) (*domain.Blob, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read output file: %w", err)
	}
	return &domain.Blob{Content: data, ContentType: f.contentType}, nil
}
