// Package poller is the client side of the generation API: it submits
// requests and follows a job until it finishes, with a bounded retry budget
// for status checks that time out.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/dto"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultPollTimeout = 15 * time.Second
	DefaultMaxTimeouts = 5
)

var (
	// ErrStalled is returned by Run when the retry budget is spent. The job
	// itself is unaffected; Refresh checks it again.
	ErrStalled = errors.New("status polling stalled")

	ErrJobNotFound = errors.New("job not found")
)

// State is the poller's view of a job
type State string

const (
	StatePolling State = "polling"
	StateDone    State = "done"
	StateStalled State = "stalled"
)

// StatusView is one JSON status observation
type StatusView struct {
	HTTPStatus int
	dto.StatusResponse
}

// Artifact is a binary job output
type Artifact struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Result is the outcome of a check or a polling run
type Result struct {
	JobID    string
	State    State
	Status   string
	Error    string
	Warning  string
	Artifact *Artifact
}

// Terminal reports whether polling should stop
func (r Result) Terminal() bool {
	return r.State == StateDone
}

// Observer receives progress for presentation
type Observer interface {
	Loading(active bool)
	Progress(view StatusView)
	Stalled()
	Done(result Result)
}

// NopObserver ignores every notification
type NopObserver struct{}

func (NopObserver) Loading(bool)        {}
func (NopObserver) Progress(StatusView) {}
func (NopObserver) Stalled()            {}
func (NopObserver) Done(Result)         {}

// Upload is a file field for Submit
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Poller talks to one API server. Run and Refresh share the retry counter.
type Poller struct {
	baseURL     string
	httpClient  *http.Client
	interval    time.Duration
	pollTimeout time.Duration
	maxTimeouts int
	observer    Observer
	logger      *slog.Logger

	mu      sync.Mutex
	retries int
	lastErr error
}

type Option func(*Poller)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.httpClient = c }
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithPollTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.pollTimeout = d
		}
	}
}

func WithMaxTimeouts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxTimeouts = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

func New(baseURL string, opts ...Option) *Poller {
	p := &Poller{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		interval:    DefaultInterval,
		pollTimeout: DefaultPollTimeout,
		maxTimeouts: DefaultMaxTimeouts,
		observer:    NopObserver{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retries returns the number of consecutive failed checks
func (p *Poller) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

// LastError returns the error of the most recent failed check, if any
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Submit posts a generation request and returns the job id
func (p *Poller) Submit(ctx context.Context, fields map[string]string, files []Upload) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return "", fmt.Errorf("failed to create file part %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", fmt.Errorf("failed to write file part %s: %w", f.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/generations", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit generation: %w", err)
	}
	defer resp.Body.Close()

	var ack dto.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("failed to decode submit response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		if ack.Error == "" {
			ack.Error = resp.Status
		}
		return ack.JobID, fmt.Errorf("generation rejected: %s", ack.Error)
	}
	return ack.JobID, nil
}

// Run polls jobID every interval until it finishes, the retry budget is
// spent or ctx is done
func (p *Poller) Run(ctx context.Context, jobID string) (Result, error) {
	p.observer.Loading(true)
	defer p.observer.Loading(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{JobID: jobID, State: StatePolling}, ctx.Err()
		case <-ticker.C:
		}

		result, err := p.check(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{JobID: jobID, State: StatePolling}, ctx.Err()
			}
			if errors.Is(err, ErrJobNotFound) {
				return Result{JobID: jobID}, err
			}
			if p.recordFailure(err) >= p.maxTimeouts {
				p.logger.Warn("Status polling stalled",
					slog.String("job_id", jobID),
					slog.Int("retries", p.Retries()),
					slog.Any("error", err),
				)
				p.observer.Stalled()
				return Result{JobID: jobID, State: StateStalled}, fmt.Errorf("%w: %w", ErrStalled, err)
			}
			continue
		}

		p.resetFailures()
		if result.Terminal() {
			p.observer.Done(result)
			return result, nil
		}
	}
}

// Refresh performs one check outside the interval. The retry counter and
// the last error are cleared first.
func (p *Poller) Refresh(ctx context.Context, jobID string) (Result, error) {
	p.resetFailures()

	p.observer.Loading(true)
	defer p.observer.Loading(false)

	result, err := p.check(ctx, jobID)
	if err != nil {
		p.recordFailure(err)
		return Result{JobID: jobID, State: StateStalled}, err
	}
	if result.Terminal() {
		p.observer.Done(result)
	}
	return result, nil
}

func (p *Poller) recordFailure(err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries++
	p.lastErr = err
	return p.retries
}

func (p *Poller) resetFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = 0
	p.lastErr = nil
}

// check fetches the status once within pollTimeout
func (p *Poller) check(ctx context.Context, jobID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/generations/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json, image/*, video/*, application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read status response: %w", err)
	}

	if artifact, ok := artifactFrom(resp, data); ok {
		return Result{JobID: jobID, State: StateDone, Status: "completed", Artifact: artifact}, nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	var status dto.StatusResponse
	if err := json.Unmarshal(data, &status); err != nil || status.Status == "" {
		return Result{}, fmt.Errorf("unexpected status response: HTTP %d", resp.StatusCode)
	}

	view := StatusView{HTTPStatus: resp.StatusCode, StatusResponse: status}
	p.observer.Progress(view)

	result := Result{
		JobID:   jobID,
		State:   StatePolling,
		Status:  status.Status,
		Error:   status.Error,
		Warning: status.Warning,
	}
	if status.Status == "completed" || status.Status == "failed" {
		result.State = StateDone
	}
	return result, nil
}

// artifactFrom recognizes a served binary by its inline disposition
func artifactFrom(resp *http.Response, data []byte) (*Artifact, bool) {
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	disposition := resp.Header.Get("Content-Disposition")
	if disposition == "" {
		return nil, false
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return nil, false
	}
	return &Artifact{
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    params["filename"],
		Data:        data,
	}, true
}

// HistoryQuery filters the archived job listing
type HistoryQuery struct {
	Status   string
	Mode     string
	PageSize int
	Cursor   string
}

// History lists archived jobs
func (p *Poller) History(ctx context.Context, q HistoryQuery) (*dto.ListJobsResponse, error) {
	values := url.Values{}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.Mode != "" {
		values.Set("mode", q.Mode)
	}
	if q.PageSize > 0 {
		values.Set("page_size", fmt.Sprint(q.PageSize))
	}
	if q.Cursor != "" {
		values.Set("cursor", q.Cursor)
	}

	endpoint := p.baseURL + "/api/v1/jobs"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return nil, fmt.Errorf("failed to list jobs: %s", body.Error)
	}

	var out dto.ListJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode job list: %w", err)
	}
	return &out, nil
}
