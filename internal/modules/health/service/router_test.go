package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	executor "fractal_bot/internal/modules/executor/service"
	"fractal_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeExecutor struct {
	ticks int
	wakes int
	rep   executor.TickReport
	err   error
}

func (f *fakeExecutor) Tick(context.Context) (executor.TickReport, error) {
	f.ticks++
	return f.rep, f.err
}

func (f *fakeExecutor) Wake() { f.wakes++ }

type fakeVenue struct {
	state *State
	err   error
}

func (f *fakeVenue) Reconnect(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.state.SetVenueState("ready")
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestLivezReadyz(t *testing.T) {
	st := NewState()
	db := &fakePinger{}
	r := NewRouter(Deps{State: st, Executor: &fakeExecutor{}, Venue: &fakeVenue{state: st}, DB: db})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/readyz").Code)

	st.SetReady(true)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz").Code)

	db.err = errors.New("conn refused")
	w := do(r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "conn refused")
}

func TestHealthz(t *testing.T) {
	st := NewState()
	st.SetVenueState("ready")
	st.TouchRun(time.Unix(1700000000, 0), RunInfo{State: "IN_TRADE", LastIndex: 41, Candles: 42, Signals: 1})
	r := NewRouter(Deps{State: st, Executor: &fakeExecutor{}, Venue: &fakeVenue{state: st}})

	w := do(r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var got Status
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ready", got.Venue)
	assert.Equal(t, int64(1700000000), got.LastRunUnix)
	assert.Equal(t, "IN_TRADE", got.LastRun.State)
	assert.Equal(t, 41, got.LastRun.LastIndex)
}

func TestExecutorTick(t *testing.T) {
	st := NewState()
	ex := &fakeExecutor{rep: executor.TickReport{Fetched: 2, Claimed: 1, Submitted: 1}}
	r := NewRouter(Deps{State: st, Executor: ex, Venue: &fakeVenue{state: st}})

	w := do(r, http.MethodPost, "/executor/tick")
	require.Equal(t, http.StatusOK, w.Code)
	var rep executor.TickReport
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Submitted)
	assert.Equal(t, 1, ex.ticks)

	ex.err = errors.New("list due: db down")
	w = do(r, http.MethodPost, "/executor/tick")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestWebhookWakesExecutor(t *testing.T) {
	st := NewState()
	ex := &fakeExecutor{}
	r := NewRouter(Deps{State: st, Executor: ex, Venue: &fakeVenue{state: st}})

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/webhooks/queued").Code)
	assert.Equal(t, 1, ex.wakes)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/webhooks/queued").Code)
}

func TestVenueReconnect(t *testing.T) {
	st := NewState()
	v := &fakeVenue{state: st}
	r := NewRouter(Deps{State: st, Executor: &fakeExecutor{}, Venue: v})

	w := do(r, http.MethodPost, "/venue/reconnect")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")

	v.err = errors.New("auth failed")
	w = do(r, http.MethodPost, "/venue/reconnect")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStatusText(t *testing.T) {
	st := NewState()
	assert.Contains(t, st.StatusText(), "last run: never")

	st.TouchRun(time.Unix(1700000000, 0), RunInfo{State: "TRACK_PULLBACK", LastIndex: 9, Candles: 10})
	st.SetError(errors.New("ingest: timeout"))
	txt := st.StatusText()
	assert.Contains(t, txt, "state: TRACK_PULLBACK (bar 9 of 10)")
	assert.Contains(t, txt, "error: ingest: timeout")
}
