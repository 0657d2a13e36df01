package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/vidgen/internal/worker/domain"
	"github.com/cuongbtq/vidgen/shared/events"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			w.drain(workerName)
			return

		case <-ctx.Done():
			w.drain(workerName)
			return

		case msg := <-w.jobsChan:
			w.handle(ctx, workerName, msg)
		}
	}
}

// drain requeues events that were dispatched but never started
func (w *Worker) drain(workerName string) {
	for {
		select {
		case msg := <-w.jobsChan:
			if err := msg.Delivery.Nack(false, true); err != nil {
				w.logger.Error("Failed to NACK pending event on shutdown",
					slog.String("worker_name", workerName),
					slog.String("error", err.Error()),
				)
			}
		default:
			return
		}
	}
}

func (w *Worker) handle(ctx context.Context, workerName string, msg *domain.EventMessage) {
	err := w.processEvent(ctx, msg.Event)
	if err == nil {
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.Event.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeueJob(err)
	w.logger.Error("Event processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.Event.JobID),
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)
	if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.Event.JobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeueJob requeues transient failures only
func shouldRequeueJob(err error) bool {
	if errors.Is(err, events.ErrInvalidEvent) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
