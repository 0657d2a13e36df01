package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/generation"
	"github.com/cuongbtq/vidgen/internal/api/metrics"
	"github.com/cuongbtq/vidgen/internal/api/model"
	"github.com/cuongbtq/vidgen/internal/api/storage"
)

const defaultMaxUploadBytes = 512 << 20

// JobReader reads live jobs
type JobReader interface {
	Get(id string) (domain.Job, error)
}

// Submitter starts generation jobs
type Submitter interface {
	Submit(ctx context.Context, req generation.Request, accept string) (domain.Job, error)
	Reject(reason string) domain.Job
}

// HistoryStore reads archived jobs
type HistoryStore interface {
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.ArchivedJob, error)
	GetJobByID(ctx context.Context, jobID string) (*model.ArchivedJob, error)
}

// HealthChecker probes a downstream dependency
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           JobReader
	Dispatcher     Submitter
	History        HistoryStore  // nil when the archive is disabled
	Render         HealthChecker // nil when no backend is configured
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
}

// GenerationHandler serves submission and live status
type GenerationHandler struct {
	logger         *slog.Logger
	jobs           JobReader
	dispatcher     Submitter
	maxUploadBytes int64
}

// JobHandler serves the archived job history
type JobHandler struct {
	logger  *slog.Logger
	history HistoryStore
}

// HealthHandler serves liveness probes
type HealthHandler struct {
	logger *slog.Logger
	render HealthChecker
}

func NewGenerationHandler(deps *Dependencies) *GenerationHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &GenerationHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		dispatcher:     deps.Dispatcher,
		maxUploadBytes: maxUpload,
	}
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		history: deps.History,
	}
}

func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger: deps.Logger,
		render: deps.Render,
	}
}
