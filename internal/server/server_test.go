package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoney2759/autotube/internal/ledger"
	"github.com/stoney2759/autotube/internal/observer"
	"github.com/stoney2759/autotube/internal/scheduler"
	"github.com/stoney2759/autotube/internal/types"
)

// okDispatcher completes every run immediately and persists its record.
type okDispatcher struct {
	ledger ledger.Ledger
}

func (d *okDispatcher) Execute(ctx context.Context, req types.RunRequest) (*types.RunRecord, error) {
	created := req.RequestedAt
	rec := &types.RunRecord{
		RunID:       req.RunID,
		Theme:       req.Theme,
		Status:      types.RunStatusSucceeded,
		CreatedAt:   created,
		CompletedAt: &created,
	}
	if err := d.ledger.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type testServer struct {
	srv   *Server
	sched *scheduler.Scheduler
	mem   *ledger.Memory
	bus   *observer.Bus
}

func newTestServer(t *testing.T, maxPerDay int) *testServer {
	t.Helper()
	mem := ledger.NewMemory()
	bus := observer.NewBus()
	t.Cleanup(bus.Close)

	sched, err := scheduler.New(&okDispatcher{ledger: mem}, mem, scheduler.State{
		Interval:  time.Hour,
		MaxPerDay: maxPerDay,
		AutoStart: true,
		Themes:    []types.Theme{"travel", "tech"},
	}, nil)
	require.NoError(t, err)

	srv, err := New(Config{Port: 0, MaxPerDay: maxPerDay}, sched, mem, bus, nil)
	require.NoError(t, err)

	return &testServer{srv: srv, sched: sched, mem: mem, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, 10)
	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHandleTriggerRun(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodPost, "/runs", `{"theme":"tech"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp.Status)
	assert.NotEmpty(t, resp.RunID)

	ts.sched.Wait()

	recs, err := ts.mem.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.Theme("tech"), recs[0].Theme)
	assert.Equal(t, resp.RunID, recs[0].RunID.String())
}

func TestHandleTriggerRun_EmptyBodyPicksTheme(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodPost, "/runs", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.sched.Wait()

	recs, err := ts.mem.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, []types.Theme{"travel", "tech"}, recs[0].Theme)
}

func TestHandleTriggerRun_QuotaDeniedWith429(t *testing.T) {
	ts := newTestServer(t, 1)

	w := ts.do(t, http.MethodPost, "/runs", `{"theme":"tech"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.sched.Wait()

	w = ts.do(t, http.MethodPost, "/runs", `{"theme":"tech"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "quota")
}

func TestHandleListRuns(t *testing.T) {
	ts := newTestServer(t, 10)
	ctx := context.Background()

	w := ts.do(t, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	now := time.Now().UTC()
	for _, theme := range []types.Theme{"travel", "tech", "cooking"} {
		rec := &types.RunRecord{
			RunID:     types.NewRunRequest(theme).RunID,
			Theme:     theme,
			Status:    types.RunStatusSucceeded,
			CreatedAt: now,
		}
		require.NoError(t, ts.mem.Append(ctx, rec))
		now = now.Add(time.Minute)
	}

	w = ts.do(t, http.MethodGet, "/runs?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []types.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, types.Theme("cooking"), recs[0].Theme)

	w = ts.do(t, http.MethodGet, "/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleQuota(t *testing.T) {
	ts := newTestServer(t, 3)

	w := ts.do(t, http.MethodPost, "/runs", `{"theme":"tech"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.sched.Wait()

	w = ts.do(t, http.MethodGet, "/quota", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp QuotaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Used)
	assert.Equal(t, 3, resp.MaxPerDay)
	assert.Equal(t, 2, resp.Remaining)
}

func TestPauseAndResume(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodPost, "/scheduler/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.sched.Paused())

	w = ts.do(t, http.MethodGet, "/scheduler", "")
	assert.Contains(t, w.Body.String(), `"paused":true`)

	w = ts.do(t, http.MethodPost, "/scheduler/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ts.sched.Paused())

	// Manual triggers go through even while paused.
	ts.sched.Pause()
	w = ts.do(t, http.MethodPost, "/runs", `{"theme":"tech"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	ts.sched.Wait()
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodOptions, "/runs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDenyStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, denyStatus(scheduler.ErrQuotaExceeded))
	assert.Equal(t, http.StatusTooManyRequests, denyStatus(scheduler.ErrTooSoon))
	assert.Equal(t, http.StatusConflict, denyStatus(scheduler.ErrRunInFlight))
	assert.Equal(t, http.StatusConflict, denyStatus(scheduler.ErrPaused))
}
