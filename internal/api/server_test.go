package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"benchboard/internal/api"
	"benchboard/internal/cache"
	"benchboard/internal/coordinator"
	"benchboard/internal/domain"
	"benchboard/internal/leaderboard"
	"benchboard/internal/pipeline"
	"benchboard/internal/store"
	"benchboard/internal/worker"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, leaderboard.EnsureSchema(db))

	caches := cache.NewManager(cache.DefaultTTLs())
	board := leaderboard.NewService(leaderboard.NewSQLiteRepo(db), caches)
	pool := worker.NewPool(4)
	tasks := coordinator.New(store.NewMemoryRepo(), pipeline.New(pipeline.Options{MaxPayloadBytes: 1 << 20}), pool)

	srv := httptest.NewServer(api.NewServer(tasks, board, caches))
	t.Cleanup(srv.Close)
	return srv
}

func call(srv *httptest.Server, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	return srv.Client().Do(req)
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	resp, err := call(srv, method, path, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// poll is for Eventually conditions, which must not stop the test goroutine.
func poll[T any](srv *httptest.Server, method, path string, body any) (T, bool) {
	var v T
	resp, err := call(srv, method, path, body)
	if err != nil {
		return v, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return v, false
	}
	return v, json.NewDecoder(resp.Body).Decode(&v) == nil
}

func TestUploadLifecycle(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/uploads", map[string]any{
		"owner_id": "alice", "kind": "csv", "name": "results.csv", "size": 2048,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[domain.SubmitResult](t, resp)
	assert.NotEmpty(t, sub.TaskID)
	assert.Equal(t, "File upload accepted, processing started", sub.Message)

	require.Eventually(t, func() bool {
		rec, ok := poll[domain.TaskRecord](srv, http.MethodGet, "/api/uploads/"+sub.TaskID, nil)
		return ok && rec.State == domain.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp = do(t, srv, http.MethodGet, "/api/owners/alice/uploads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recs := decode[[]domain.TaskRecord](t, resp)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Results)
	assert.Equal(t, domain.VerdictPass, recs[0].Results.Scan.Verdict)
}

func TestUploadErrors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "unknown task", method: http.MethodGet, path: "/api/uploads/nope", want: http.StatusNotFound},
		{name: "missing owner", method: http.MethodPost, path: "/api/uploads", body: map[string]any{"kind": "csv", "name": "a.csv", "size": 1}, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/api/uploads", body: "not an object", want: http.StatusBadRequest},
		{name: "empty batch", method: http.MethodPost, path: "/api/uploads/batch", body: map[string]any{"owner_id": "alice"}, want: http.StatusBadRequest},
		{name: "unknown cache domain", method: http.MethodDelete, path: "/api/cache/sessions", want: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, srv, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestBatchUploadAndStatus(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/uploads/batch", map[string]any{
		"owner_id": "bob",
		"files": []map[string]any{
			{"kind": "json", "name": "a.json", "size": 10},
			{"kind": "exe", "name": "b.exe", "size": 10},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	batch := decode[domain.BatchResult](t, resp)
	require.Len(t, batch.TaskIDs, 2)

	ids := append(append([]string{}, batch.TaskIDs...), "evicted")
	var st domain.BatchStatus
	require.Eventually(t, func() bool {
		got, ok := poll[domain.BatchStatus](srv, http.MethodPost, "/api/uploads/batch/status", map[string]any{"task_ids": ids})
		if ok && got.Processing == 0 {
			st = got
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.NotFound)
	assert.InDelta(t, 2.0/3.0, st.FractionDone, 1e-9)
}

func TestLeaderboardRoutes(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/models", map[string]any{"name": "alpha", "organization": "lab"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	model := decode[leaderboard.Model](t, resp)

	resp = do(t, srv, http.MethodPost, "/api/models", map[string]any{"name": "alpha"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/metrics", map[string]any{"name": "accuracy", "higher_is_better": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/submissions", map[string]any{"model_id": model.ID, "metric_id": "accuracy", "score": 0.91})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/leaderboard/accuracy?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	board := decode[leaderboard.Ranking](t, resp)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, model.ID, board.Entries[0].ModelID)
	assert.Equal(t, 1, board.Entries[0].Rank)

	resp = do(t, srv, http.MethodGet, "/api/leaderboard/bleu", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/statistics?refresh=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[leaderboard.Statistics](t, resp)
	assert.Equal(t, 1, st.Models)
	assert.Equal(t, 1, st.Submissions)

	resp = do(t, srv, http.MethodGet, "/api/metrics/aggregates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	aggs := decode[[]leaderboard.MetricAggregate](t, resp)
	require.Len(t, aggs, 1)
	assert.Equal(t, 1, aggs[0].Submissions)

	resp = do(t, srv, http.MethodDelete, "/api/models/"+model.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, srv, http.MethodGet, "/api/models/"+model.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCacheRoutes(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, srv, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[[]cache.Stats](t, do(t, srv, http.MethodGet, "/api/cache/stats", nil))
	require.Len(t, stats, 4)
	assert.Equal(t, cache.DomainModels, stats[0].Domain)
	assert.Equal(t, 1, stats[0].Keys)
	assert.Equal(t, uint64(1), stats[0].Hits)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/api/cache/models", nil).StatusCode)
	stats = decode[[]cache.Stats](t, do(t, srv, http.MethodGet, "/api/cache/stats", nil))
	assert.Equal(t, 0, stats[0].Keys)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/api/cache", nil).StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("content-type"), "text/plain")
}
