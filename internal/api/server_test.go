package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/llmstxt/internal/database"
	"git.home.luguber.info/inful/llmstxt/internal/metrics"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
	"git.home.luguber.info/inful/llmstxt/internal/runner"
)

type fakeRunner struct {
	runID string
	err   error
	calls []string
}

func (f *fakeRunner) Trigger(_ context.Context, source string) (string, error) {
	f.calls = append(f.calls, source)
	return f.runID, f.err
}

type harness struct {
	srv     *Server
	tracker *progress.Tracker
	runner  *fakeRunner
	outDir  string
	reg     *prom.Registry
}

const token = "s3cret"

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "llmstxt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tracker := progress.NewTracker(db)
	require.NoError(t, tracker.EnsureSchema(t.Context()))

	h := &harness{
		tracker: tracker,
		runner:  &fakeRunner{runID: "run-1"},
		outDir:  t.TempDir(),
		reg:     prom.NewRegistry(),
	}
	h.srv = NewServer(":0", Deps{
		Tracker:      tracker,
		Runner:       h.runner,
		OutputFiles:  []string{filepath.Join(h.outDir, "llms.txt"), filepath.Join(h.outDir, "llms-full.txt")},
		Registry:     h.reg,
		Token:        token,
		PollInterval: 10 * time.Millisecond,
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, auth bool) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// decode re-encodes resp.Data into v.
func decode(t *testing.T, resp Response, v any) {
	t.Helper()
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestHealthNeedsNoToken(t *testing.T) {
	h := newHarness(t)
	w, _ := h.do(t, http.MethodGet, "/health", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	w, resp := h.do(t, http.MethodGet, "/progress/current", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "auth", resp.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/progress/current", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	w, _ = h.do(t, http.MethodGet, "/progress/current", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	handler := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestProgressOfUnknownRunIsNotFound(t *testing.T) {
	h := newHarness(t)
	w, resp := h.do(t, http.MethodGet, "/progress/nope", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Code)
}

func TestProgressAndCurrentRun(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	_, resp := h.do(t, http.MethodGet, "/progress/current", true)
	var current CurrentResponse
	decode(t, resp, &current)
	assert.False(t, current.Active)
	assert.Nil(t, current.Run)

	holder, err := h.tracker.Claim(ctx, "run-7", 5*time.Minute)
	require.NoError(t, err)
	require.Empty(t, holder)
	require.NoError(t, h.tracker.Start(ctx, "run-7", 10))
	require.NoError(t, h.tracker.Advance(ctx, "run-7", 4, 12, "Hello"))

	w, resp := h.do(t, http.MethodGet, "/progress/run-7", true)
	require.Equal(t, http.StatusOK, w.Code)
	var view progress.View
	decode(t, resp, &view)
	assert.Equal(t, progress.StatusRunning, view.Status)
	assert.Equal(t, 4, view.CurrentItem)
	assert.Equal(t, 10, view.TotalItems)
	assert.InDelta(t, 40.0, view.Percentage, 0.001)
	assert.Equal(t, "Hello", view.CurrentPostTitle)

	_, resp = h.do(t, http.MethodGet, "/progress/current", true)
	decode(t, resp, &current)
	assert.True(t, current.Active)
	require.NotNil(t, current.Run)
	assert.Equal(t, "run-7", current.Run.RunID)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.tracker.Start(ctx, "run-1", 5))

	w, resp := h.do(t, http.MethodPost, "/progress/run-1/cancel", true)
	require.Equal(t, http.StatusOK, w.Code)
	var body CancelResponse
	decode(t, resp, &body)
	assert.True(t, body.Cancelled)

	rec, err := h.tracker.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCancelled, rec.Status)

	_, resp = h.do(t, http.MethodPost, "/progress/run-1/cancel", true)
	decode(t, resp, &body)
	assert.False(t, body.Cancelled, "a finished run is not cancelled twice")

	w, _ = h.do(t, http.MethodPost, "/progress/missing/cancel", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerate(t *testing.T) {
	h := newHarness(t)
	w, resp := h.do(t, http.MethodPost, "/generate", true)
	assert.Equal(t, http.StatusAccepted, w.Code)
	var body GenerateResponse
	decode(t, resp, &body)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, []string{runner.SourceAPI}, h.runner.calls)

	h.runner.runID, h.runner.err = "holder", runner.ErrBusy
	w, resp = h.do(t, http.MethodPost, "/generate", true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "contention", resp.Code)
	assert.True(t, resp.Retryable)
	decode(t, resp, &body)
	assert.Equal(t, "holder", body.RunID)
}

func TestLogsPolling(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	for _, e := range []progress.LogEntry{
		{RunID: "run-1", Level: progress.LevelInfo, Message: "one"},
		{RunID: "run-1", Level: progress.LevelWarning, Message: "two"},
		{RunID: "run-1", Level: progress.LevelInfo, Message: "three"},
	} {
		require.NoError(t, h.tracker.Log(ctx, e))
	}

	_, resp := h.do(t, http.MethodGet, "/logs?limit=2", true)
	var page LogsResponse
	decode(t, resp, &page)
	require.Len(t, page.Logs, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "two", page.Logs[1].Message)

	_, resp = h.do(t, http.MethodGet, "/logs?last_id="+strconv.FormatInt(page.LastID, 10), true)
	decode(t, resp, &page)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "three", page.Logs[0].Message)
	assert.False(t, page.HasMore)

	_, resp = h.do(t, http.MethodGet, "/logs?level=warn", true)
	decode(t, resp, &page)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, progress.LevelWarning, page.Logs[0].Level)

	_, resp = h.do(t, http.MethodGet, "/logs?last_id=999", true)
	decode(t, resp, &page)
	assert.Empty(t, page.Logs)
	assert.Equal(t, int64(999), page.LastID)
}

func TestLogsRejectsBadParameters(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"level=loud", "last_id=-1", "last_id=x", "limit=0"} {
		w, resp := h.do(t, http.MethodGet, "/logs?"+q, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "validation", resp.Code, q)
	}
}

func TestPruneLogs(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.tracker.Log(ctx, progress.LogEntry{Message: "old", Timestamp: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, h.tracker.Log(ctx, progress.LogEntry{Message: "new"}))

	w, resp := h.do(t, http.MethodDelete, "/logs", true)
	require.Equal(t, http.StatusOK, w.Code)
	var body PruneResponse
	decode(t, resp, &body)
	assert.Equal(t, int64(1), body.Deleted)
}

func TestFiles(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.outDir, "llms.txt"), []byte("\ufeff# Site\n"), 0o644))

	w, resp := h.do(t, http.MethodGet, "/files", true)
	require.Equal(t, http.StatusOK, w.Code)
	var body FilesResponse
	decode(t, resp, &body)
	require.Len(t, body.Files, 2)
	assert.True(t, body.Files[0].Exists)
	assert.Equal(t, "llms.txt", body.Files[0].Name)
	assert.NotEmpty(t, body.Files[0].SHA256)
	assert.False(t, body.Files[1].Exists)
	assert.Equal(t, "llms-full.txt", body.Files[1].Name)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	metrics.NewPrometheusRecorder(h.reg).SetBatchSize(25)

	w, _ := h.do(t, http.MethodGet, "/metrics", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "llmstxt_batch_size 25")
}

func TestProgressEventsStreamUntilTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.tracker.Start(ctx, "run-1", 2))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = h.tracker.Advance(context.Background(), "run-1", 1, 1, "First")
		time.Sleep(30 * time.Millisecond)
		_ = h.tracker.Complete(context.Background(), "run-1", progress.StatusCompleted)
	}()

	req := httptest.NewRequest(http.MethodGet, "/progress/run-1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Contains(t, body, "event: completed\n")
	assert.Less(t, strings.Index(body, "event: connected"), strings.Index(body, "event: completed"))
}

func TestProgressEventsForFinishedRunCloseImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.tracker.Start(ctx, "run-1", 1))
	require.NoError(t, h.tracker.Complete(ctx, "run-1", progress.StatusError))

	req := httptest.NewRequest(http.MethodGet, "/progress/run-1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, 2, strings.Count(w.Body.String(), "event: "))
	assert.Contains(t, w.Body.String(), "event: error\n")
}
