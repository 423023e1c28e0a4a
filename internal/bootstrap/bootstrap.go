// Package bootstrap assembles the ingestion stack shared by the API server
// and the sync worker.
package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/buttondown"
	"github.com/angelmondragon/engagement-tracker/internal/cron"
	"github.com/angelmondragon/engagement-tracker/internal/events"
	"github.com/angelmondragon/engagement-tracker/internal/subscribers"
	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	"github.com/angelmondragon/engagement-tracker/internal/watermarks"
	buttondownwebhook "github.com/angelmondragon/engagement-tracker/internal/webhooks/buttondown"
	"github.com/angelmondragon/engagement-tracker/pkg/config"
	"github.com/angelmondragon/engagement-tracker/pkg/db"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/metrics"
	"github.com/angelmondragon/engagement-tracker/pkg/redis"
)

const webhookIdempotencyTTL = 7 * 24 * time.Hour

// Params are the shared resources the stack is built from. Redis and
// Source are optional; Source defaults to the Buttondown API client.
type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	Metrics *metrics.SyncMetrics
	Source  buttondown.EventSource
}

// Stack holds the wired repositories and services.
type Stack struct {
	Subscribers  *subscribers.Repository
	Events       *events.Repository
	Watermarks   *watermarks.Store
	Synchronizer *syncer.Synchronizer
	Runner       syncer.Runner
}

// NewSyncStack wires repositories, the synchronizer and the locked runner.
func NewSyncStack(p Params) (*Stack, error) {
	if p.Config == nil {
		return nil, errors.New("config is required")
	}
	if p.DB == nil {
		return nil, errors.New("database client is required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	source := p.Source
	if source == nil {
		client, err := buttondown.NewClient(p.Config.Buttondown,
			buttondown.WithLogger(logg),
			buttondown.WithMetrics(p.Metrics),
		)
		if err != nil {
			return nil, err
		}
		source = client
	}

	stack := &Stack{
		Subscribers: subscribers.NewRepository(p.DB.DB()),
		Events:      events.NewRepository(p.DB.DB()),
		Watermarks:  watermarks.NewStore(p.DB.DB()),
	}

	synchronizer, err := syncer.New(syncer.Params{
		DB:           p.DB,
		Source:       source,
		Subscribers:  stack.Subscribers,
		Events:       stack.Events,
		Watermarks:   stack.Watermarks,
		LookbackDays: p.Config.Buttondown.LookbackDays,
		Overlap:      p.Config.Buttondown.Overlap,
		Logger:       logg,
		Metrics:      p.Metrics,
	})
	if err != nil {
		return nil, err
	}
	stack.Synchronizer = synchronizer

	runner, err := syncer.NewService(syncer.ServiceParams{
		Synchronizer:  synchronizer,
		Watermarks:    stack.Watermarks,
		Locks:         LockFactory(p.Config.Sync, p.Redis, cron.NewLocalLocks()),
		DefaultStream: p.Config.Sync.Stream,
		Logger:        logg,
	})
	if err != nil {
		return nil, err
	}
	stack.Runner = runner
	return stack, nil
}

// LockFactory hands out per-stream run locks: Redis-backed when a client is
// available, in-process otherwise.
func LockFactory(cfg config.SyncConfig, client *redis.Client, local *cron.LocalLocks) syncer.LockFactory {
	return func(stream string) (syncer.Lock, error) {
		name := "sync:" + stream
		if client != nil {
			return cron.NewRedisLock(client, name, cfg.LockTTL)
		}
		return local.Lock(name), nil
	}
}

// NewWebhookService builds webhook intake on top of the stack. The Redis
// fast-path guard is used when a client is available.
func NewWebhookService(stack *Stack, client *redis.Client, logg *logger.Logger) (*buttondownwebhook.Service, error) {
	if stack == nil {
		return nil, errors.New("sync stack is required")
	}
	params := buttondownwebhook.ServiceParams{
		Persister: stack.Synchronizer,
		Events:    stack.Events,
		Logger:    logg,
	}
	if client != nil {
		guard, err := buttondownwebhook.NewIdempotencyGuard(client, webhookIdempotencyTTL, "buttondown-webhook")
		if err != nil {
			return nil, err
		}
		params.Guard = guard
	}
	return buttondownwebhook.NewService(params)
}

// OpenRedis connects when Redis is configured and returns nil otherwise.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		if logg != nil {
			logg.Info(ctx, "redis not configured; using in-process locks")
		}
		return nil, nil
	}
	return redis.New(ctx, cfg, logg)
}
