package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/dashboard"
	"github.com/angelmondragon/engagement-tracker/internal/events"
	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	buttondownwebhook "github.com/angelmondragon/engagement-tracker/internal/webhooks/buttondown"
	pkgAuth "github.com/angelmondragon/engagement-tracker/pkg/auth"
	"github.com/angelmondragon/engagement-tracker/pkg/config"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubRunner struct{ runs int }

func (s *stubRunner) RunSync(_ context.Context, stream string, _ *time.Time) (syncer.Result, error) {
	s.runs++
	return syncer.Result{Stream: stream}, nil
}

func (s *stubRunner) State(_ context.Context, stream string) (syncer.State, error) {
	return syncer.State{Stream: stream}, nil
}

func (s *stubRunner) DefaultStream() string { return "buttondown_events" }

type stubDashboard struct{}

func (stubDashboard) Stats(context.Context, *time.Time, *time.Time) (dashboard.Stats, error) {
	return dashboard.Stats{}, nil
}

func (stubDashboard) TopSubscribers(context.Context, int, enums.EngagementMetric) ([]dashboard.TopSubscriber, error) {
	return []dashboard.TopSubscriber{}, nil
}

func (stubDashboard) Trends(context.Context, int) ([]dashboard.TrendPoint, error) {
	return []dashboard.TrendPoint{}, nil
}

func (stubDashboard) SubscriberEvents(context.Context, string, string, int) (events.FeedPage, error) {
	return events.FeedPage{Items: []events.FeedItem{}}, nil
}

type stubWebhooks struct{ calls int }

func (s *stubWebhooks) HandleDelivery(_ context.Context, payload []byte) (buttondownwebhook.Receipt, error) {
	s.calls++
	return buttondownwebhook.Receipt{Status: buttondownwebhook.StatusProcessed, EventID: buttondownwebhook.DeliveryID(payload)}, nil
}

func (s *stubWebhooks) Health(context.Context) (buttondownwebhook.Health, error) {
	return buttondownwebhook.Health{Status: "healthy"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		Auth: config.AuthConfig{
			JWTSecret:         "secret",
			JWTIssuer:         "engagement-tracker",
			ExpirationMinutes: 60,
			DashboardUsername: "admin",
			DashboardPassword: "$argon2id$placeholder",
		},
		Buttondown: config.ButtondownConfig{WebhookSecret: "whsec"},
		CORS:       config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func newTestRouter(cfg *config.Config, runner *stubRunner, hooks *stubWebhooks) http.Handler {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	return NewRouter(cfg, logger.Nop(), stubPinger{}, nil, nil, runner, stubDashboard{}, hooks, metrics)
}

func buildToken(t *testing.T, cfg *config.Config) string {
	t.Helper()
	token, _, err := pkgAuth.MintAccessToken(cfg.Auth, time.Now(), "admin")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router := newTestRouter(testConfig(), &stubRunner{}, &stubWebhooks{})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics", "/webhooks/buttondown", "/webhooks/health"} {
		resp := do(router, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s got %d", path, resp.Code)
		}
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	router := newTestRouter(testConfig(), &stubRunner{}, &stubWebhooks{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-Id", "req-123")
	resp := do(router, req)
	if got := resp.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestDashboardRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig(), &stubRunner{}, &stubWebhooks{})

	resp := do(router, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestDashboardSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, &stubRunner{}, &stubWebhooks{})

	for _, path := range []string{
		"/api/dashboard/stats",
		"/api/dashboard/subscribers/top?metric=clicks",
		"/api/dashboard/trends?days=7",
		"/api/dashboard/subscribers/sub-A/events",
		"/api/sync/events/state",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg))
		resp := do(router, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s got %d (%s)", path, resp.Code, resp.Body.String())
		}
	}
}

func TestSyncTriggerRequiresJWT(t *testing.T) {
	cfg := testConfig()
	runner := &stubRunner{}
	router := newTestRouter(cfg, runner, &stubWebhooks{})

	resp := do(router, httptest.NewRequest(http.MethodPost, "/api/sync/events", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sync/events", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg))
	resp = do(router, req)
	if resp.Code != http.StatusOK || runner.runs != 1 {
		t.Fatalf("expected one run with 200, got %d runs=%d", resp.Code, runner.runs)
	}
}

func TestRoutesOpenWhenAuthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{}
	router := newTestRouter(cfg, &stubRunner{}, &stubWebhooks{})

	resp := do(router, httptest.NewRequest(http.MethodGet, "/api/dashboard/trends", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	resp = do(router, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"a","password":"b"}`)))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected login to be unavailable, got %d", resp.Code)
	}
}

func TestWebhookRequiresSignatureWhenSecretSet(t *testing.T) {
	cfg := testConfig()
	hooks := &stubWebhooks{}
	router := newTestRouter(cfg, &stubRunner{}, hooks)
	body := `{"event_type":"subscriber.opened","data":{"subscriber":"sub-A"}}`

	resp := do(router, httptest.NewRequest(http.MethodPost, "/webhooks/buttondown", strings.NewReader(body)))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned delivery got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/buttondown", strings.NewReader(body))
	req.Header.Set(buttondownwebhook.SignatureHeader, buttondownwebhook.Sign([]byte(body), "whsec"))
	resp = do(router, req)
	if resp.Code != http.StatusOK || hooks.calls != 1 {
		t.Fatalf("expected signed delivery accepted, got %d calls=%d", resp.Code, hooks.calls)
	}
}
