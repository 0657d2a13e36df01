package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/vidgen/internal/worker/domain"
	"github.com/cuongbtq/vidgen/internal/worker/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer delivers lifecycle events with manual acknowledgement
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Archiver persists a terminal job
type Archiver interface {
	UpsertJob(ctx context.Context, record *storage.JobRecord) (bool, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Consumer    Consumer
	Archiver    Archiver
	WorkerID    string
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration
}

// Worker archives job lifecycle events consumed from RabbitMQ
type Worker struct {
	logger      *slog.Logger
	consumer    Consumer
	archiver    Archiver
	workerID    string
	concurrency int
	jobTimeout  time.Duration

	jobsChan chan *domain.EventMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("archiver-%s-%d", host, os.Getpid())
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = concurrency * 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		logger:      logger,
		consumer:    cfg.Consumer,
		archiver:    cfg.Archiver,
		workerID:    workerID,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		jobsChan:    make(chan *domain.EventMessage, queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start subscribes to the queue and launches the pool. It returns once the
// goroutines are running; Stop waits for them.
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil || w.archiver == nil {
		return errors.New("worker requires a consumer and an archiver")
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	return nil
}

// Stop signals every goroutine and waits for in-flight events to settle
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
