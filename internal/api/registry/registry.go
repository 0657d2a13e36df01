package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/google/uuid"
)

// Notifier is told about every job that reaches a terminal status. It is
// called outside the registry lock, once per job.
type Notifier interface {
	JobFinished(job domain.Job)
}

// Registry is the in-process job table. Jobs do not survive a restart and
// the table is not shared between instances.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*domain.Job
	now       func() time.Time
	logger    *slog.Logger
	notifiers []Notifier
}

// Option customizes the registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used by the sweeper
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNotifier registers a terminal-transition listener
func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:   make(map[string]*domain.Job),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a new pending job
func (r *Registry) Create() domain.Job {
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.StatusPending,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return clone(job)
}

// Get returns a copy of the job
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return clone(job), nil
}

// Update merges the non-nil fields of p into the job. Data fields are last
// write wins. A status change must be a valid transition, otherwise nothing
// is applied and ErrInvalidTransition is returned; in particular only the
// first caller to move a job into completed or failed succeeds.
func (r *Registry) Update(id string, p domain.Patch) (domain.Job, error) {
	r.mu.Lock()

	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, domain.ErrJobNotFound
	}

	if err := validatePatch(job, p); err != nil {
		r.mu.Unlock()
		return clone(job), err
	}

	finished := apply(job, p, r.now())
	snapshot := clone(job)
	r.mu.Unlock()

	if finished {
		r.notify(snapshot)
	}
	return snapshot, nil
}

// Annotate records a soft warning on a job that is still active
func (r *Registry) Annotate(id, warning string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return clone(job), fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Status)
	}

	job.Error = warning
	return clone(job), nil
}

// SweepOlderThan deletes jobs created before now-maxAge and returns how many
// were removed
func (r *Registry) SweepOlderThan(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// RunSweeper purges old jobs every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Job sweeper started",
		slog.Duration("interval", interval),
		slog.Duration("max_age", maxAge),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Job sweeper stopped")
			return
		case <-ticker.C:
			if removed := r.SweepOlderThan(maxAge); removed > 0 {
				r.logger.Info("Swept expired jobs",
					slog.Int("removed", removed),
					slog.Int("remaining", r.Len()),
				)
			}
		}
	}
}

// Len returns the number of tracked jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// CountByStatus returns the number of tracked jobs per status
func (r *Registry) CountByStatus() map[domain.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.Status]int, 4)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts
}

func (r *Registry) notify(job domain.Job) {
	for _, n := range r.notifiers {
		n.JobFinished(job)
	}
}

func validatePatch(job *domain.Job, p domain.Patch) error {
	if p.Status != nil && !domain.CanTransition(job.Status, *p.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, *p.Status)
	}
	if p.Metadata != nil && job.Metadata != nil {
		return domain.ErrMetadataImmutable
	}
	if (p.ExpectedImagePath != nil || p.ExpectedVideoPath != nil) && job.Metadata == nil && p.Metadata == nil {
		return domain.ErrMetadataMissing
	}
	return nil
}

// apply mutates job and reports whether it just became terminal
func apply(job *domain.Job, p domain.Patch, now time.Time) bool {
	if p.Metadata != nil {
		md := *p.Metadata
		job.Metadata = &md
	}
	if p.ExpectedImagePath != nil {
		job.Metadata.ExpectedImagePath = *p.ExpectedImagePath
	}
	if p.ExpectedVideoPath != nil {
		job.Metadata.ExpectedVideoPath = *p.ExpectedVideoPath
	}
	if p.Error != nil {
		job.Error = *p.Error
	}
	if p.Result != nil {
		job.Result = p.Result
	}
	if p.ImageResult != nil {
		job.ImageResult = p.ImageResult
		job.HasImage = true
	}
	if p.VideoResult != nil {
		job.VideoResult = p.VideoResult
		job.HasVideo = true
	}

	finished := false
	if p.Status != nil {
		wasTerminal := job.Status.IsTerminal()
		job.Status = *p.Status
		if job.Status.IsTerminal() && !wasTerminal && job.CompletedAt == nil {
			completedAt := now
			job.CompletedAt = &completedAt
			finished = true
		}
	}
	return finished
}

func clone(job *domain.Job) domain.Job {
	out := *job
	if job.Metadata != nil {
		md := *job.Metadata
		out.Metadata = &md
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
