package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/generation"
	"github.com/cuongbtq/vidgen/internal/api/metrics"
	"github.com/cuongbtq/vidgen/internal/api/render"
	"github.com/cuongbtq/vidgen/internal/api/watcher"
)

const (
	DefaultBaseName = "vidgen"

	idPrefixLen = 8
)

// JobStore is the subset of the registry the dispatcher writes to
type JobStore interface {
	Create() domain.Job
	Update(id string, p domain.Patch) (domain.Job, error)
	Annotate(id, warning string) (domain.Job, error)
}

// Backend forwards payloads to the render service
type Backend interface {
	Generate(ctx context.Context, body io.Reader, contentType, accept string) (*render.Response, error)
}

// OutputWatcher waits for a job's output files
type OutputWatcher interface {
	Watch(ctx context.Context, jobID string) watcher.Outcome
	OutputDir() string
}

// Config controls payload naming and failure policy
type Config struct {
	BaseName    string
	PrefixField string
	// HardFailClientErrors fails a job when the backend answers 4xx
	HardFailClientErrors bool
}

// Dispatcher accepts generation requests and runs the backend call and the
// output watcher for each one in the background
type Dispatcher struct {
	store   JobStore
	backend Backend
	watcher OutputWatcher
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// background work outlives the submitting request and stops with baseCtx
	baseCtx context.Context
	wg      sync.WaitGroup
	counter atomic.Uint64
}

// Option customizes the dispatcher
type Option func(*Dispatcher)

// WithBaseContext sets the context background tasks run under
func WithBaseContext(ctx context.Context) Option {
	return func(d *Dispatcher) {
		if ctx != nil {
			d.baseCtx = ctx
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(store JobStore, backend Backend, w OutputWatcher, cfg Config, opts ...Option) *Dispatcher {
	if cfg.BaseName == "" {
		cfg.BaseName = DefaultBaseName
	}
	if cfg.PrefixField == "" {
		cfg.PrefixField = generation.DefaultPrefixField
	}

	d := &Dispatcher{
		store:   store,
		backend: backend,
		watcher: w,
		cfg:     cfg,
		logger:  slog.Default(),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit registers a job for req, starts the backend call and the watcher,
// and returns without waiting for either. The returned job is in processing.
func (d *Dispatcher) Submit(ctx context.Context, req generation.Request, accept string) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}

	job := d.store.Create()
	d.metrics.JobCreated()

	prefix := d.nextPrefix(job.ID)
	imagePath, videoPath := watcher.ExpectedPaths(d.watcher.OutputDir(), prefix)

	logger := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("prefix", prefix),
	)

	body, contentType, err := generation.Build(req, d.cfg.PrefixField, prefix)
	if err != nil {
		failed := d.fail(job.ID, err.Error(), logger)
		return failed, err
	}

	job, err = d.store.Update(job.ID, domain.Patch{
		Status: domain.StatusPtr(domain.StatusProcessing),
		Metadata: &domain.Metadata{
			Mode:              string(req.Mode()),
			FilenamePrefix:    prefix,
			ExpectedImagePath: imagePath,
			ExpectedVideoPath: videoPath,
		},
	})
	if err != nil {
		return job, fmt.Errorf("failed to start job: %w", err)
	}

	logger.Info("Generation job dispatched",
		slog.String("mode", string(req.Mode())),
		slog.Int("payload_bytes", body.Len()),
	)

	payload := body.Bytes()
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.forward(job.ID, payload, contentType, accept, logger)
	}()
	go func() {
		defer d.wg.Done()
		d.watcher.Watch(d.baseCtx, job.ID)
	}()

	return job, nil
}

// Reject records a submission that could not be parsed as a failed job
func (d *Dispatcher) Reject(reason string) domain.Job {
	job := d.store.Create()
	d.metrics.JobCreated()
	return d.fail(job.ID, reason, d.logger.With(slog.String("job_id", job.ID)))
}

// Wait blocks until every background task has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) nextPrefix(jobID string) string {
	short := jobID
	if len(short) > idPrefixLen {
		short = short[:idPrefixLen]
	}
	return fmt.Sprintf("%s_%s_%06d", d.cfg.BaseName, short, d.counter.Add(1))
}

func (d *Dispatcher) fail(jobID, reason string, logger *slog.Logger) domain.Job {
	job, err := d.store.Update(jobID, domain.Patch{
		Status: domain.StatusPtr(domain.StatusFailed),
		Error:  domain.StringPtr(reason),
	})
	if err != nil {
		logger.Error("Failed to mark job as failed", slog.String("error", err.Error()))
	}
	logger.Warn("Generation request rejected", slog.String("reason", reason))
	return job
}

// forward posts the payload to the backend and records the answer. The
// answer never completes the job; only the watcher does that.
func (d *Dispatcher) forward(jobID string, payload []byte, contentType, accept string, logger *slog.Logger) {
	start := time.Now()
	resp, err := d.backend.Generate(d.baseCtx, bytes.NewReader(payload), contentType, accept)
	elapsed := time.Since(start)

	if err != nil {
		d.handleBackendError(jobID, err, elapsed, logger)
		return
	}

	d.metrics.RenderRequest("ok", elapsed)

	blob := &domain.Blob{Content: resp.Body, ContentType: resp.ContentType}
	if resp.IsJSON() {
		blob.ContentType = "application/json"
	}

	if _, err := d.store.Update(jobID, domain.Patch{Result: blob}); err != nil {
		logger.Warn("Failed to attach backend response", slog.String("error", err.Error()))
		return
	}

	logger.Info("Render backend responded",
		slog.String("content_type", blob.ContentType),
		slog.Int("bytes", len(blob.Content)),
		slog.Duration("elapsed", elapsed),
	)
}

func (d *Dispatcher) handleBackendError(jobID string, err error, elapsed time.Duration, logger *slog.Logger) {
	var httpErr *render.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsClientError() && d.cfg.HardFailClientErrors {
		d.metrics.RenderRequest("rejected", elapsed)
		d.fail(jobID, fmt.Sprintf("render backend rejected the request: %s", httpErr.Error()), logger)
		return
	}

	result := "error"
	warning := fmt.Sprintf("render backend error: %s; waiting for output files", err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		result = "timeout"
		warning = fmt.Sprintf("render backend did not answer within %s; waiting for output files", elapsed.Round(time.Second))
	}
	d.metrics.RenderRequest(result, elapsed)

	logger.Warn("Render backend call failed, job left to the output watcher",
		slog.String("error", err.Error()),
		slog.Duration("elapsed", elapsed),
	)

	if _, annErr := d.store.Annotate(jobID, warning); annErr != nil {
		logger.Debug("Could not annotate job", slog.String("error", annErr.Error()))
	}
}
