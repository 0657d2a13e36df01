package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/shared/events"
	"github.com/google/uuid"
)

const defaultBufferSize = 256

// Broker is the part of the RabbitMQ client the publisher needs
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Publisher turns terminal job transitions into lifecycle events. JobFinished
// never blocks the caller: events are queued and sent by Run. When the queue
// is full the event is dropped and logged.
type Publisher struct {
	broker  Broker
	logger  *slog.Logger
	now     func() time.Time
	queue   chan events.JobEvent
	timeout time.Duration

	mu      sync.Mutex
	dropped int
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan events.JobEvent, n)
		}
	}
}

// WithPublishTimeout bounds each publish including its retries
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(broker Broker, opts ...Option) *Publisher {
	p := &Publisher{
		broker:  broker,
		logger:  slog.Default(),
		now:     time.Now,
		queue:   make(chan events.JobEvent, defaultBufferSize),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// JobFinished implements registry.Notifier
func (p *Publisher) JobFinished(job domain.Job) {
	event, ok := p.eventFor(job)
	if !ok {
		return
	}

	select {
	case p.queue <- event:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Warn("Event queue full, dropping job event",
			slog.String("job_id", job.ID),
			slog.String("type", event.Type),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run publishes queued events until ctx is done, then flushes what is
// already queued with a fresh deadline
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case event := <-p.queue:
			p.publish(ctx, event)
		case <-ctx.Done():
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case event := <-p.queue:
			p.publish(ctx, event)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, event events.JobEvent) {
	body, err := event.Encode()
	if err != nil {
		p.logger.Error("Failed to encode job event", slog.String("job_id", event.JobID), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.broker.PublishWithRetry(ctx, event.Type, body, events.ContentType); err != nil {
		p.logger.Error("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("type", event.Type),
			slog.Any("error", err),
		)
		return
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", event.JobID),
		slog.String("type", event.Type),
	)
}

func (p *Publisher) eventFor(job domain.Job) (events.JobEvent, bool) {
	typ, ok := events.TypeForStatus(string(job.Status))
	if !ok {
		return events.JobEvent{}, false
	}

	event := events.JobEvent{
		EventID:    uuid.NewString(),
		Type:       typ,
		JobID:      job.ID,
		Status:     string(job.Status),
		Error:      job.Error,
		HasImage:   job.HasImage,
		HasVideo:   job.HasVideo,
		CreatedAt:  job.CreatedAt,
		OccurredAt: p.now(),
	}
	if job.CompletedAt != nil {
		event.CompletedAt = *job.CompletedAt
	} else {
		event.CompletedAt = event.OccurredAt
	}
	if job.Metadata != nil {
		event.Mode = job.Metadata.Mode
		event.FilenamePrefix = job.Metadata.FilenamePrefix
	}
	return event, true
}
