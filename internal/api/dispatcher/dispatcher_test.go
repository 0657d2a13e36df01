package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/generation"
	"github.com/cuongbtq/vidgen/internal/api/registry"
	"github.com/cuongbtq/vidgen/internal/api/render"
	"github.com/cuongbtq/vidgen/internal/api/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prefixPattern = regexp.MustCompile(`^vidgen_[0-9a-f-]{8}_\d{6}$`)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	payloads [][]byte
	accepts  []string
	release  chan struct{}
	resp     *render.Response
	err      error
}

func (b *fakeBackend) Generate(ctx context.Context, body io.Reader, contentType, accept string) (*render.Response, error) {
	data, _ := io.ReadAll(body)
	b.mu.Lock()
	b.calls++
	b.payloads = append(b.payloads, data)
	b.accepts = append(b.accepts, accept)
	b.mu.Unlock()

	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.resp, b.err
}

type fakeWatcher struct {
	dir     string
	mu      sync.Mutex
	watched []string
}

func (w *fakeWatcher) Watch(ctx context.Context, jobID string) watcher.Outcome {
	w.mu.Lock()
	w.watched = append(w.watched, jobID)
	w.mu.Unlock()
	return watcher.OutcomeSuperseded
}

func (w *fakeWatcher) OutputDir() string { return w.dir }

func newTestDispatcher(backend Backend, cfg Config) (*Dispatcher, *registry.Registry, *fakeWatcher) {
	reg := registry.New()
	w := &fakeWatcher{dir: "/data/output"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, backend, w, cfg, WithLogger(logger)), reg, w
}

func TestSubmit_ReturnsBeforeBackendAnswers(t *testing.T) {
	backend := &fakeBackend{
		release: make(chan struct{}),
		resp:    &render.Response{StatusCode: 200, ContentType: "video/mp4", Body: []byte("mp4")},
	}
	d, reg, w := newTestDispatcher(backend, Config{})

	start := time.Now()
	job, err := d.Submit(context.Background(), generation.TextToVideo{Prompt: "a cat surfing"}, "video/mp4")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, domain.StatusProcessing, job.Status)
	require.NotNil(t, job.Metadata)
	assert.Regexp(t, prefixPattern, job.Metadata.FilenamePrefix)
	assert.Equal(t, job.ID[:8], job.Metadata.FilenamePrefix[len("vidgen_"):len("vidgen_")+8])
	assert.Equal(t, "/data/output/"+job.Metadata.FilenamePrefix+"_00001.png", job.Metadata.ExpectedImagePath)
	assert.Equal(t, "/data/output/"+job.Metadata.FilenamePrefix+"_00001.mp4", job.Metadata.ExpectedVideoPath)
	assert.Equal(t, string(generation.ModeTextToVideo), job.Metadata.Mode)

	close(backend.release)
	d.Wait()

	assert.Equal(t, []string{job.ID}, w.watched)
	require.Len(t, backend.payloads, 1)
	assert.Contains(t, string(backend.payloads[0]), job.Metadata.FilenamePrefix)
	assert.Equal(t, []string{"video/mp4"}, backend.accepts)

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status, "backend answer must not complete the job")
	require.NotNil(t, got.Result)
	assert.Equal(t, "video/mp4", got.Result.ContentType)
}

func TestSubmit_SurvivesRequestCancellation(t *testing.T) {
	backend := &fakeBackend{
		release: make(chan struct{}),
		resp:    &render.Response{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"ok":true}`)},
	}
	d, reg, _ := newTestDispatcher(backend, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	job, err := d.Submit(ctx, generation.TextToVideo{Prompt: "x"}, "")
	require.NoError(t, err)
	cancel()

	close(backend.release)
	d.Wait()

	got, _ := reg.Get(job.ID)
	require.NotNil(t, got.Result)
	assert.Empty(t, got.Error)
}

func TestSubmit_BackendOutcomes(t *testing.T) {
	tests := []struct {
		name            string
		resp            *render.Response
		err             error
		hardFail        bool
		wantStatus      domain.Status
		wantContentType string
		wantWarning     string
	}{
		{
			name:            "binary response stored as result",
			resp:            &render.Response{StatusCode: 200, ContentType: "image/png", Body: []byte("png")},
			wantStatus:      domain.StatusProcessing,
			wantContentType: "image/png",
		},
		{
			name:            "json response stored as json blob",
			resp:            &render.Response{StatusCode: 200, ContentType: "application/json; charset=utf-8", Body: []byte(`{"queued":1}`)},
			wantStatus:      domain.StatusProcessing,
			wantContentType: "application/json",
		},
		{
			name:        "transport error is a soft warning",
			err:         errors.New("connection refused"),
			wantStatus:  domain.StatusProcessing,
			wantWarning: "connection refused",
		},
		{
			name:        "timeout is a soft warning",
			err:         context.DeadlineExceeded,
			wantStatus:  domain.StatusProcessing,
			wantWarning: "did not answer",
		},
		{
			name:        "server error is a soft warning",
			err:         &render.HTTPError{StatusCode: 502, Message: "bad gateway"},
			hardFail:    true,
			wantStatus:  domain.StatusProcessing,
			wantWarning: "502",
		},
		{
			name:        "client error is soft by default",
			err:         &render.HTTPError{StatusCode: 422, Message: "prompt rejected"},
			wantStatus:  domain.StatusProcessing,
			wantWarning: "prompt rejected",
		},
		{
			name:        "client error fails the job when configured",
			err:         &render.HTTPError{StatusCode: 422, Message: "prompt rejected"},
			hardFail:    true,
			wantStatus:  domain.StatusFailed,
			wantWarning: "rejected the request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{resp: tt.resp, err: tt.err}
			d, reg, _ := newTestDispatcher(backend, Config{HardFailClientErrors: tt.hardFail})

			job, err := d.Submit(context.Background(), generation.TextToVideo{Prompt: "x"}, "")
			require.NoError(t, err)
			d.Wait()

			got, err := reg.Get(job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)

			if tt.wantContentType != "" {
				require.NotNil(t, got.Result)
				assert.Equal(t, tt.wantContentType, got.Result.ContentType)
				assert.Equal(t, tt.resp.Body, got.Result.Content)
			} else {
				assert.Nil(t, got.Result)
			}
			if tt.wantWarning != "" {
				assert.Contains(t, got.Error, tt.wantWarning)
			}
		})
	}
}

func TestSubmit_InvalidRequestFailsJob(t *testing.T) {
	backend := &fakeBackend{}
	d, reg, w := newTestDispatcher(backend, Config{})

	job, err := d.Submit(context.Background(), generation.ImageToVideo{Prompt: "no image"}, "")
	require.ErrorIs(t, err, generation.ErrInvalidRequest)
	assert.Equal(t, domain.StatusFailed, job.Status)

	d.Wait()
	assert.Zero(t, backend.calls)
	assert.Empty(t, w.watched)

	got, _ := reg.Get(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestSubmit_ConcurrentPrefixesAreUnique(t *testing.T) {
	backend := &fakeBackend{resp: &render.Response{StatusCode: 200, ContentType: "application/json", Body: []byte("{}")}}
	d, _, _ := newTestDispatcher(backend, Config{BaseName: "clip"})

	const n = 100
	prefixes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := d.Submit(context.Background(), generation.TextToVideo{Prompt: "x"}, "")
			if assert.NoError(t, err) {
				prefixes <- job.Metadata.FilenamePrefix
			}
		}()
	}
	wg.Wait()
	close(prefixes)
	d.Wait()

	seen := make(map[string]bool, n)
	for p := range prefixes {
		assert.Regexp(t, `^clip_`, p)
		assert.False(t, seen[p], "duplicate prefix %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, n)
}

func TestReject(t *testing.T) {
	d, reg, _ := newTestDispatcher(&fakeBackend{}, Config{})

	job := d.Reject("invalid generation request: text-to-video requires Prompt")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "requires Prompt")

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestSubmit_ShutdownCancelsBackgroundWork(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	reg := registry.New()
	w := &fakeWatcher{dir: t.TempDir()}

	ctx, cancel := context.WithCancel(context.Background())
	d := New(reg, backend, w, Config{}, WithBaseContext(ctx), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	job, err := d.Submit(context.Background(), generation.TextToVideo{Prompt: "x"}, "")
	require.NoError(t, err)

	cancel()
	d.Wait()

	got, _ := reg.Get(job.ID)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Contains(t, got.Error, "render backend error")
}
