package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newWatchedJob registers a processing job with output metadata for prefix
func newWatchedJob(t *testing.T, reg *registry.Registry, dir, prefix string) domain.Job {
	t.Helper()

	job := reg.Create()
	image, video := ExpectedPaths(dir, prefix)
	job, err := reg.Update(job.ID, domain.Patch{
		Status: domain.StatusPtr(domain.StatusProcessing),
		Metadata: &domain.Metadata{
			FilenamePrefix:    prefix,
			ExpectedImagePath: image,
			ExpectedVideoPath: video,
		},
	})
	require.NoError(t, err)
	return job
}

func newTestWatcher(reg *registry.Registry, dir string, interval, deadline time.Duration) *Watcher {
	return New(reg, Config{OutputDir: dir, Interval: interval, Deadline: deadline}, discardLogger(), nil)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestExpectedPaths(t *testing.T) {
	image, video := ExpectedPaths("/data/output", "vidgen_ab12cd34_000007")
	assert.Equal(t, "/data/output/vidgen_ab12cd34_000007_00001.png", image)
	assert.Equal(t, "/data/output/vidgen_ab12cd34_000007_00001.mp4", video)
}

func TestWatch_ExactImageFoundOnImmediateCheck(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_a_000001")

	content := []byte("\x89PNG fake image bytes")
	writeFile(t, job.Metadata.ExpectedImagePath, content)

	// an interval this long proves completion came from the immediate check
	w := newTestWatcher(reg, dir, time.Hour, time.Hour)
	outcome := w.Watch(context.Background(), job.ID)
	assert.Equal(t, OutcomeFound, outcome)

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.HasImage)
	assert.False(t, got.HasVideo)
	require.NotNil(t, got.ImageResult)
	assert.Equal(t, content, got.ImageResult.Content)
	assert.Equal(t, "image/png", got.ImageResult.ContentType)
	assert.NotNil(t, got.CompletedAt)
}

func TestWatch_VideoAppearsLater(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_b_000002")

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = os.WriteFile(job.Metadata.ExpectedVideoPath, []byte("mp4 bytes"), 0o644)
	}()

	w := newTestWatcher(reg, dir, 20*time.Millisecond, 5*time.Second)
	outcome := w.Watch(context.Background(), job.ID)
	assert.Equal(t, OutcomeFound, outcome)

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.HasVideo)
	assert.Equal(t, "video/mp4", got.VideoResult.ContentType)
	assert.Equal(t, []byte("mp4 bytes"), got.VideoResult.Content)
}

func TestWatch_FallbackScanRewritesExpectedPath(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_c_000003")

	actual := filepath.Join(dir, "vidgen_c_000003_00004.mp4")
	writeFile(t, actual, []byte("renumbered"))

	w := newTestWatcher(reg, dir, 20*time.Millisecond, time.Second)
	assert.Equal(t, OutcomeFound, w.Watch(context.Background(), job.ID))

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, got.HasVideo)
	assert.Equal(t, actual, got.Metadata.ExpectedVideoPath)
	assert.Equal(t, "vidgen_c_000003", got.Metadata.FilenamePrefix)
}

func TestWatch_PrefixDoesNotClaimLongerPrefix(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_d_1")

	// belongs to a job whose prefix is vidgen_d_10
	writeFile(t, filepath.Join(dir, "vidgen_d_10_00001.png"), []byte("not ours"))

	w := newTestWatcher(reg, dir, 20*time.Millisecond, 100*time.Millisecond)
	assert.Equal(t, OutcomeTimedOut, w.Watch(context.Background(), job.ID))

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.False(t, got.HasImage)
}

func TestWatch_TimeoutFailsJob(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_e_000005")

	w := newTestWatcher(reg, dir, 20*time.Millisecond, 120*time.Millisecond)
	start := time.Now()
	outcome := w.Watch(context.Background(), job.ID)
	assert.Equal(t, OutcomeTimedOut, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "timeout")
	assert.NotNil(t, got.CompletedAt)
}

func TestWatch_AmbiguousMatchIsRejected(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_f_000006")

	writeFile(t, filepath.Join(dir, "vidgen_f_000006_00002.png"), []byte("one"))
	writeFile(t, filepath.Join(dir, "vidgen_f_000006_00003.png"), []byte("two"))

	w := newTestWatcher(reg, dir, 20*time.Millisecond, 100*time.Millisecond)
	st := &watch{jobID: job.ID, start: time.Now(), logger: discardLogger()}

	_, done := w.check(st)
	assert.False(t, done)

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Contains(t, got.Error, "ambiguous output match")
	assert.False(t, got.HasImage)
}

func TestWatch_SupersededWhenAlreadyTerminal(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_g_000007")

	_, err := reg.Update(job.ID, domain.Patch{Status: domain.StatusPtr(domain.StatusFailed), Error: domain.StringPtr("rejected")})
	require.NoError(t, err)

	writeFile(t, job.Metadata.ExpectedImagePath, []byte("late"))

	w := newTestWatcher(reg, dir, 20*time.Millisecond, time.Second)
	assert.Equal(t, OutcomeSuperseded, w.Watch(context.Background(), job.ID))

	got, _ := reg.Get(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.False(t, got.HasImage)
}

func TestWatch_RepeatedCheckIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_h_000008")
	writeFile(t, job.Metadata.ExpectedImagePath, []byte("image"))

	w := newTestWatcher(reg, dir, time.Hour, time.Hour)
	first := &watch{jobID: job.ID, start: time.Now(), logger: discardLogger()}
	second := &watch{jobID: job.ID, start: time.Now(), logger: discardLogger()}

	outcome, done := w.check(first)
	require.True(t, done)
	assert.Equal(t, OutcomeFound, outcome)
	completed, _ := reg.Get(job.ID)

	outcome, done = w.check(second)
	require.True(t, done)
	assert.Equal(t, OutcomeSuperseded, outcome)

	again, _ := reg.Get(job.ID)
	assert.Equal(t, completed.CompletedAt, again.CompletedAt)
	assert.Equal(t, domain.StatusCompleted, again.Status)
}

func TestWatch_CanceledByContext(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_i_000009")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	w := newTestWatcher(reg, dir, 20*time.Millisecond, time.Minute)
	assert.Equal(t, OutcomeCanceled, w.Watch(ctx, job.ID))

	got, _ := reg.Get(job.ID)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func TestWatch_EmptyFileIgnoredUntilWritten(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	job := newWatchedJob(t, reg, dir, "vidgen_j_000010")

	writeFile(t, job.Metadata.ExpectedVideoPath, nil)
	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = os.WriteFile(job.Metadata.ExpectedVideoPath, []byte("now written"), 0o644)
	}()

	w := newTestWatcher(reg, dir, 20*time.Millisecond, 5*time.Second)
	assert.Equal(t, OutcomeFound, w.Watch(context.Background(), job.ID))

	got, _ := reg.Get(job.ID)
	assert.Equal(t, []byte("now written"), got.VideoResult.Content)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "p_1_00002.jpg"), []byte("x"))
	writeFile(t, filepath.Join(dir, "p_1_00002.txt"), []byte("x"))
	writeFile(t, filepath.Join(dir, "p_12_00001.jpg"), []byte("x"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "p_1_dir.png"), 0o755))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	path, err := scan(dir, "p_1", imageExts, entries)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "p_1_00002.jpg"), path)
	assert.Equal(t, "image/jpeg", contentTypeFor(path, imageExts))

	path, err = scan(dir, "p_1", videoExts, entries)
	require.NoError(t, err)
	assert.Empty(t, path)

	writeFile(t, filepath.Join(dir, "p_1_00003.png"), []byte("x"))
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	_, err = scan(dir, "p_1", imageExts, entries)
	assert.ErrorIs(t, err, errAmbiguous)
}
