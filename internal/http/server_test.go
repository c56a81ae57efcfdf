package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/daily-coordinator/internal/config"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/service/runner"
)

const testKey = "k-123"

type fakeRunner struct {
	err    error
	tokens []string
	ctxErr error
}

func (f *fakeRunner) Trigger(ctx context.Context, token string) (model.Event, error) {
	f.tokens = append(f.tokens, token)
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return model.Event{}, f.err
	}
	return model.Event{
		CoordinatorID:  "daily-coordinator-001",
		Timestamp:      "2025-11-18T10:00:00Z",
		Status:         model.EventSuccess,
		TasksProcessed: 2,
	}, nil
}

type fakeEvents struct {
	coordinatorID string
	status        model.EventStatus
	limit, offset int
	err           error
}

func (f *fakeEvents) InsertBatch(context.Context, []model.EventRow) error { return nil }

func (f *fakeEvents) List(_ context.Context, id string, st model.EventStatus, limit, offset int) ([]model.EventRow, error) {
	f.coordinatorID, f.status, f.limit, f.offset = id, st, limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return []model.EventRow{{MessageID: "m1", CoordinatorID: id, Status: "partial", Errors: []string{"x"}}}, nil
}

func newTestServer(t *testing.T, runs Runner, events *fakeEvents, rps int) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{APIKeys: []string{testKey}}
	cfg.RateLimit.RPS = rps
	if events == nil {
		return NewServer(cfg, runs, nil, rdb)
	}
	return NewServer(cfg, runs, events, rdb)
}

func do(s *Server, method, target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil, 0)
	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil, 0)
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRun_Auth(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil, 0)

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/v1/runs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/v1/runs", "wrong").Code)
}

func TestTriggerRun_OK(t *testing.T) {
	runs := &fakeRunner{}
	s := newTestServer(t, runs, nil, 0)

	rec := do(s, http.MethodPost, "/v1/runs", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "success", ev["status"])
	assert.Equal(t, []any{}, ev["errors"])
	require.Len(t, runs.tokens, 1)
	assert.NotEmpty(t, runs.tokens[0])
}

func TestTriggerRun_SurvivesClientDisconnect(t *testing.T) {
	runs := &fakeRunner{}
	s := newTestServer(t, runs, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil).WithContext(ctx)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runs.tokens, 1)
	assert.NoError(t, runs.ctxErr)
}

func TestTriggerRun_Conflict(t *testing.T) {
	s := newTestServer(t, &fakeRunner{err: runner.ErrRunInProgress}, nil, 0)
	assert.Equal(t, http.StatusConflict, do(s, http.MethodPost, "/v1/runs", testKey).Code)
}

func TestTriggerRun_Error(t *testing.T) {
	s := newTestServer(t, &fakeRunner{err: errors.New("redis down")}, nil, 0)
	assert.Equal(t, http.StatusInternalServerError, do(s, http.MethodPost, "/v1/runs", testKey).Code)
}

func TestTriggerRun_RateLimited(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil, 1)

	codes := []int{
		do(s, http.MethodPost, "/v1/runs", testKey).Code,
		do(s, http.MethodPost, "/v1/runs", testKey).Code,
		do(s, http.MethodPost, "/v1/runs", testKey).Code,
	}
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestListEvents(t *testing.T) {
	events := &fakeEvents{}
	s := newTestServer(t, &fakeRunner{}, events, 0)

	rec := do(s, http.MethodGet, "/v1/reports/events?coordinator_id=daily-coordinator-001&status=Partial&limit=5000&offset=10", testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "daily-coordinator-001", events.coordinatorID)
	assert.Equal(t, model.EventPartial, events.status)
	assert.Equal(t, 50, events.limit)
	assert.Equal(t, 10, events.offset)

	var body struct {
		Count   int              `json:"count"`
		Results []model.EventRow `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "m1", body.Results[0].MessageID)
}

func TestListEvents_BadStatus(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, &fakeEvents{}, 0)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/v1/reports/events?status=running", testKey).Code)
}

func TestListEvents_QueryFails(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, &fakeEvents{err: errors.New("timeout")}, 0)
	assert.Equal(t, http.StatusInternalServerError, do(s, http.MethodGet, "/v1/reports/events", testKey).Code)
}

func TestListEvents_Disabled(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil, 0)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/v1/reports/events", testKey).Code)
}
