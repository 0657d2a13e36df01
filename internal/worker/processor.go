package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/vidgen/internal/worker/domain"
	"github.com/cuongbtq/vidgen/internal/worker/storage"
	"github.com/cuongbtq/vidgen/shared/events"
)

// processEvent archives one terminal job. Database failures are retryable,
// a shutdown mid-write is too.
func (w *Worker) processEvent(ctx context.Context, event *events.JobEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	written, err := w.archiver.UpsertJob(jobCtx, storage.RecordFromEvent(event))
	if err != nil {
		return domain.NewRetryableError(event.JobID, "archive", err)
	}

	w.logger.Info("Job archived",
		slog.String("job_id", event.JobID),
		slog.String("status", event.Status),
		slog.Bool("written", written),
	)
	return nil
}
