package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/auth"
	"github.com/angelmondragon/engagement-tracker/internal/dashboard"
	"github.com/angelmondragon/engagement-tracker/internal/events"
	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	"github.com/angelmondragon/engagement-tracker/pkg/config"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	stream string
	since  *time.Time
	err    error
}

func (s *stubRunner) RunSync(_ context.Context, stream string, since *time.Time) (syncer.Result, error) {
	s.stream, s.since = stream, since
	if s.err != nil {
		return syncer.Result{}, s.err
	}
	return syncer.Result{Stream: stream, EventsCreated: 3, EventsSkipped: 0, SubscribersTouched: 2}, nil
}

func (s *stubRunner) State(_ context.Context, stream string) (syncer.State, error) {
	return syncer.State{Stream: stream, DefaultLookbackDays: 30, PendingInitialSync: true}, nil
}

func (s *stubRunner) DefaultStream() string { return "buttondown_events" }

type stubDashboard struct {
	start, end *time.Time
	limit      int
	metric     enums.EngagementMetric
	days       int
	subscriber string
	cursor     string
}

func (s *stubDashboard) Stats(_ context.Context, start, end *time.Time) (dashboard.Stats, error) {
	s.start, s.end = start, end
	return dashboard.Stats{TotalSubscribers: 3, EngagementRate: 33.33}, nil
}

func (s *stubDashboard) TopSubscribers(_ context.Context, limit int, metric enums.EngagementMetric) ([]dashboard.TopSubscriber, error) {
	s.limit, s.metric = limit, metric
	return []dashboard.TopSubscriber{{SubscriberID: "sub-A", TotalEngagement: 2}}, nil
}

func (s *stubDashboard) Trends(_ context.Context, days int) ([]dashboard.TrendPoint, error) {
	s.days = days
	return []dashboard.TrendPoint{{Date: "2026-03-10", Opens: 1, Total: 1}}, nil
}

func (s *stubDashboard) SubscriberEvents(_ context.Context, subscriberID, cursor string, limit int) (events.FeedPage, error) {
	s.subscriber, s.cursor, s.limit = subscriberID, cursor, limit
	if subscriberID == "missing" {
		return events.FeedPage{}, pkgerrors.New(pkgerrors.CodeNotFound, "subscriber missing not found")
	}
	return events.FeedPage{Items: []events.FeedItem{{ID: 1, EventID: "e1"}}, NextCursor: "next"}, nil
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSyncTriggerPassesSinceAndStream(t *testing.T) {
	runner := &stubRunner{}
	rec := serve(SyncTrigger(runner, nil), http.MethodPost, "/api/sync/events?since=2026-03-01T00:00:00Z")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "buttondown_events", runner.stream)
	require.NotNil(t, runner.since)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *runner.since)

	var body struct {
		Data syncer.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data.EventsCreated)
}

func TestSyncTriggerMapsErrors(t *testing.T) {
	runner := &stubRunner{err: pkgerrors.New(pkgerrors.CodeConflict, "sync already running")}
	assert.Equal(t, http.StatusConflict, serve(SyncTrigger(runner, nil), http.MethodPost, "/api/sync/events").Code)

	runner.err = pkgerrors.New(pkgerrors.CodeUpstream, "provider returned 401")
	assert.Equal(t, http.StatusBadGateway, serve(SyncTrigger(runner, nil), http.MethodPost, "/api/sync/events").Code)

	runner.err = nil
	assert.Equal(t, http.StatusBadRequest, serve(SyncTrigger(runner, nil), http.MethodPost, "/api/sync/events?since=soon").Code)
}

func TestSyncStateReportsPendingInitialSync(t *testing.T) {
	rec := serve(SyncState(&stubRunner{}, nil), http.MethodGet, "/api/sync/events/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending_initial_sync":true`)
	assert.Contains(t, rec.Body.String(), `"default_lookback_days":30`)
}

func TestDashboardQueryParsing(t *testing.T) {
	svc := &stubDashboard{}

	rec := serve(DashboardStats(svc, nil), http.MethodGet, "/api/dashboard/stats?start_date=2026-03-01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.start)
	assert.Nil(t, svc.end)

	rec = serve(DashboardTopSubscribers(svc, nil), http.MethodGet, "/api/dashboard/subscribers/top")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dashboard.DefaultTopLimit, svc.limit)
	assert.Equal(t, enums.MetricOpens, svc.metric)

	rec = serve(DashboardTopSubscribers(svc, nil), http.MethodGet, "/api/dashboard/subscribers/top?limit=5&metric=total")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.limit)
	assert.Equal(t, enums.MetricTotal, svc.metric)

	assert.Equal(t, http.StatusBadRequest, serve(DashboardTopSubscribers(svc, nil), http.MethodGet, "/top?limit=101").Code)
	assert.Equal(t, http.StatusBadRequest, serve(DashboardTopSubscribers(svc, nil), http.MethodGet, "/top?metric=views").Code)

	rec = serve(DashboardTrends(svc, nil), http.MethodGet, "/api/dashboard/trends?days=7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, svc.days)
	assert.Equal(t, http.StatusBadRequest, serve(DashboardTrends(svc, nil), http.MethodGet, "/trends?days=0").Code)
}

func TestSubscriberEventsRoute(t *testing.T) {
	svc := &stubDashboard{}
	r := chi.NewRouter()
	r.Get("/api/dashboard/subscribers/{subscriberId}/events", SubscriberEvents(svc, nil))

	rec := serve(r, http.MethodGet, "/api/dashboard/subscribers/sub-A/events?limit=10&cursor=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sub-A", svc.subscriber)
	assert.Equal(t, "abc", svc.cursor)
	assert.Equal(t, 10, svc.limit)
	assert.Contains(t, rec.Body.String(), `"next_cursor":"next"`)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/dashboard/subscribers/missing/events").Code)
}

type stubAuth struct{ err error }

func (s stubAuth) Login(context.Context, auth.LoginRequest) (*auth.LoginResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.LoginResponse{AccessToken: "tok", TokenType: "Bearer"}, nil
}

func TestAuthLogin(t *testing.T) {
	login := func(svc auth.Service, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		AuthLogin(svc, nil).ServeHTTP(rec, req)
		return rec
	}

	rec := login(stubAuth{}, `{"username":"admin","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"tok"`)

	assert.Equal(t, http.StatusBadRequest, login(stubAuth{}, `{"username":"admin"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(stubAuth{}, `{"username":"admin","password":"pw","extra":1}`).Code)
	assert.Equal(t, http.StatusUnauthorized, login(stubAuth{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")}, `{"username":"a","password":"b"}`).Code)
	assert.Equal(t, http.StatusNotFound, login(nil, `{}`).Code)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := serve(HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{}, "redis": nil}), http.MethodGet, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"disabled"`)
	assert.Equal(t, "test", rec.Header().Get(envHeader))

	rec = serve(HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{err: errors.New("down")}}), http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(HealthLive(cfg), http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
}
