package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the API service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsCreated     prometheus.Counter
	jobsFinished    *prometheus.CounterVec
	watcherOutcomes *prometheus.CounterVec
	outputsFound    *prometheus.CounterVec
	renderRequests  *prometheus.CounterVec
	renderDuration  prometheus.Histogram
	httpDuration    *prometheus.HistogramVec
	jobDuration     prometheus.Histogram
}

// New creates and registers all collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vidgen_jobs_created_total",
			Help: "Generation jobs accepted by the dispatcher",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidgen_jobs_finished_total",
			Help: "Generation jobs that reached a terminal status",
		}, []string{"status"}),
		watcherOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidgen_watcher_outcomes_total",
			Help: "Output file watcher results",
		}, []string{"outcome"}),
		outputsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidgen_watcher_outputs_found_total",
			Help: "Output files discovered by the watcher",
		}, []string{"kind", "method"}),
		renderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidgen_render_requests_total",
			Help: "Calls to the external render backend",
		}, []string{"result"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidgen_render_request_duration_seconds",
			Help:    "Latency of render backend calls",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidgen_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidgen_job_duration_seconds",
			Help:    "Time from job creation to terminal status",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsCreated,
		m.jobsFinished,
		m.watcherOutcomes,
		m.outputsFound,
		m.renderRequests,
		m.renderDuration,
		m.httpDuration,
		m.jobDuration,
	)

	return m
}

// TrackJobs exposes live per-status job counts read from counts on scrape
func (m *Metrics) TrackJobs(counts func() map[domain.Status]int) {
	if m == nil {
		return
	}
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		status := status
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "vidgen_jobs_tracked",
			Help:        "Jobs currently held in the in-memory registry",
			ConstLabels: prometheus.Labels{"status": string(status)},
		}, func() float64 {
			return float64(counts()[status])
		}))
	}
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobCreated() {
	if m == nil {
		return
	}
	m.jobsCreated.Inc()
}

// JobFinished implements registry.Notifier
func (m *Metrics) JobFinished(job domain.Job) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(string(job.Status)).Inc()
	if job.CompletedAt != nil {
		m.jobDuration.Observe(job.CompletedAt.Sub(job.CreatedAt).Seconds())
	}
}

func (m *Metrics) WatcherOutcome(outcome string) {
	if m == nil {
		return
	}
	m.watcherOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OutputFound(kind, method string) {
	if m == nil {
		return
	}
	m.outputsFound.WithLabelValues(kind, method).Inc()
}

func (m *Metrics) RenderRequest(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.renderRequests.WithLabelValues(result).Inc()
	m.renderDuration.Observe(elapsed.Seconds())
}

// Middleware records request latency per matched route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
