package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/dispatcher"
	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/dto"
	"github.com/cuongbtq/vidgen/internal/api/generation"
	"github.com/cuongbtq/vidgen/internal/api/handler"
	"github.com/cuongbtq/vidgen/internal/api/metrics"
	"github.com/cuongbtq/vidgen/internal/api/registry"
	"github.com/cuongbtq/vidgen/internal/api/render"
	"github.com/cuongbtq/vidgen/internal/api/watcher"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stack struct {
	engine     *gin.Engine
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	outputDir  string
}

func newStack(t *testing.T, backendURL string, deadline time.Duration) *stack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	m := metrics.New()
	reg := registry.New(registry.WithLogger(logger), registry.WithNotifier(m))
	m.TrackJobs(reg.CountByStatus)

	ctx, cancel := context.WithCancel(context.Background())
	client := render.NewClient(render.Config{BaseURL: backendURL, Timeout: 2 * time.Second})
	w := watcher.New(reg, watcher.Config{OutputDir: dir, Interval: 25 * time.Millisecond, Deadline: deadline}, logger, m)
	d := dispatcher.New(reg, client, w, dispatcher.Config{},
		dispatcher.WithBaseContext(ctx),
		dispatcher.WithLogger(logger),
		dispatcher.WithMetrics(m),
	)
	t.Cleanup(func() {
		cancel()
		d.Wait()
	})

	engine := SetupRouter(&handler.Dependencies{
		Logger:     logger,
		Jobs:       reg,
		Dispatcher: d,
		Render:     client,
		Metrics:    m,
	}, Options{})

	return &stack{engine: engine, registry: reg, dispatcher: d, outputDir: dir}
}

func (s *stack) submit(t *testing.T, fields map[string]string) dto.SubmitResponse {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp dto.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *stack) status(jobID string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/generations/"+jobID, nil))
	return rec
}

// pollUntil polls the status endpoint the way a client would until done
// accepts a response
func (s *stack) pollUntil(t *testing.T, jobID string, timeout time.Duration, done func(*httptest.ResponseRecorder) bool) *httptest.ResponseRecorder {
	t.Helper()
	var last *httptest.ResponseRecorder
	require.Eventually(t, func() bool {
		last = s.status(jobID)
		return done(last)
	}, timeout, 20*time.Millisecond)
	return last
}

func isBinary(rec *httptest.ResponseRecorder) bool {
	return rec.Code == http.StatusOK && !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json")
}

// Scenario A: the backend writes the video and answers with JSON; the client
// polls until the video is served
func TestScenario_TextToVideoCompletes(t *testing.T) {
	var st *stack
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		prefix := r.FormValue(generation.DefaultPrefixField)
		assert.Equal(t, "a cat surfing", r.FormValue(generation.FieldPrompt))

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = os.WriteFile(filepath.Join(st.outputDir, prefix+"_00001.mp4"), []byte("rendered video"), 0o644)
		}()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"queued":true}`))
	}))
	defer backend.Close()

	st = newStack(t, backend.URL, 5*time.Second)

	ack := st.submit(t, map[string]string{
		generation.FieldMode:   "text-to-video",
		generation.FieldPrompt: "a cat surfing",
	})
	assert.Equal(t, "processing", ack.Status)

	job, err := st.registry.Get(ack.JobID)
	require.NoError(t, err)
	assert.Contains(t, []domain.Status{domain.StatusPending, domain.StatusProcessing}, job.Status)

	rec := st.pollUntil(t, ack.JobID, 5*time.Second, isBinary)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("rendered video"), rec.Body.Bytes())
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	// the terminal status never changes afterwards
	for i := 0; i < 3; i++ {
		job, err := st.registry.Get(ack.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, job.Status)
		time.Sleep(30 * time.Millisecond)
	}
}

// Scenario B: the backend is unreachable but the output file still appears
func TestScenario_BackendDownFileAppears(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	st := newStack(t, deadURL, 5*time.Second)
	ack := st.submit(t, map[string]string{generation.FieldPrompt: "mountains at dawn"})

	rec := st.pollUntil(t, ack.JobID, 3*time.Second, func(rec *httptest.ResponseRecorder) bool {
		var resp dto.StatusResponse
		return json.Unmarshal(rec.Body.Bytes(), &resp) == nil && resp.Warning != ""
	})
	var warned dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &warned))
	assert.Equal(t, "processing", warned.Status)
	assert.Contains(t, warned.Warning, "render backend error")

	job, err := st.registry.Get(ack.JobID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.Metadata.ExpectedImagePath, []byte("still image"), 0o644))

	rec = st.pollUntil(t, ack.JobID, 3*time.Second, isBinary)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("still image"), rec.Body.Bytes())
}

// Scenario C: nothing useful from the backend and no file before the deadline
func TestScenario_NoOutputTimesOut(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gpu pool exhausted", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	st := newStack(t, backend.URL, 300*time.Millisecond)
	ack := st.submit(t, map[string]string{generation.FieldPrompt: "a quiet lake"})

	rec := st.pollUntil(t, ack.JobID, 3*time.Second, func(rec *httptest.ResponseRecorder) bool {
		return rec.Code == http.StatusInternalServerError
	})

	var resp dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, "timeout")
	assert.NotEmpty(t, resp.CompletedAt)
}

func TestSubmit_MalformedRequestIsRecordedAsFailed(t *testing.T) {
	st := newStack(t, "", time.Second)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField(generation.FieldMode, "avatar"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	st.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp dto.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)

	status := st.status(resp.JobID)
	assert.Equal(t, http.StatusInternalServerError, status.Code)
}

func TestMiddleware(t *testing.T) {
	st := newStack(t, "", time.Second)

	t.Run("request id is generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		st.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "trace-123")
		rec := httptest.NewRecorder()
		st.engine.ServeHTTP(rec, req)
		assert.Equal(t, "trace-123", rec.Header().Get(requestIDHeader))
	})

	t.Run("cors preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		st.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/generations", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("metrics exposed", func(t *testing.T) {
		st.status("0b6a3a36-7f43-4b8e-9d5e-2f1c7d9a0e11")

		rec := httptest.NewRecorder()
		st.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "vidgen_http_request_duration_seconds")
		assert.Contains(t, rec.Body.String(), "vidgen_jobs_tracked")
	})

	t.Run("history without archive", func(t *testing.T) {
		rec := httptest.NewRecorder()
		st.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("render health unconfigured backend", func(t *testing.T) {
		rec := httptest.NewRecorder()
		st.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/render", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
