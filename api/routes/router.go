package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/engagement-tracker/api/controllers"
	webhookcontrollers "github.com/angelmondragon/engagement-tracker/api/controllers/webhooks"
	"github.com/angelmondragon/engagement-tracker/api/middleware"
	"github.com/angelmondragon/engagement-tracker/internal/auth"
	"github.com/angelmondragon/engagement-tracker/internal/dashboard"
	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	"github.com/angelmondragon/engagement-tracker/pkg/config"
	"github.com/angelmondragon/engagement-tracker/pkg/db"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/redis"
)

// NewRouter mounts every HTTP surface. redisClient, authService and
// metricsHandler may be nil.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	authService auth.Service,
	syncRunner syncer.Runner,
	dashboardService dashboard.Service,
	webhookService webhookcontrollers.ButtondownWebhookService,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	deps := map[string]controllers.Pinger{"database": dbP, "redis": nil}
	var rateStore middleware.RateLimiterStore
	if redisClient != nil {
		deps["redis"] = redisClient
		rateStore = redisClient
	}

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.Auth.LoginWindow,
		cfg.Auth.LoginIPLimit,
		cfg.Auth.LoginUserLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/buttondown", webhookcontrollers.ButtondownWebhookProbe())
		r.Post("/buttondown", webhookcontrollers.ButtondownWebhook(webhookService, cfg.Buttondown.WebhookSecret, logg))
		r.Get("/health", webhookcontrollers.WebhookHealth(webhookService, logg))
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, rateStore, logg)).Post("/login", controllers.AuthLogin(authService, logg))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))

		r.Route("/api/sync", func(r chi.Router) {
			r.Post("/events", controllers.SyncTrigger(syncRunner, logg))
			r.Get("/events/state", controllers.SyncState(syncRunner, logg))
		})

		r.Route("/api/dashboard", func(r chi.Router) {
			r.Get("/stats", controllers.DashboardStats(dashboardService, logg))
			r.Get("/subscribers/top", controllers.DashboardTopSubscribers(dashboardService, logg))
			r.Get("/subscribers/{subscriberId}/events", controllers.SubscriberEvents(dashboardService, logg))
			r.Get("/trends", controllers.DashboardTrends(dashboardService, logg))
		})
	})

	return r
}
