package buttondownwebhook

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/events"
	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
)

// Status is the outcome reported back to the provider.
type Status string

const (
	StatusProcessed Status = "success"
	StatusDuplicate Status = "duplicate"
)

// Receipt describes what happened to one delivery.
type Receipt struct {
	Status    Status `json:"status"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type,omitempty"`
}

// Health summarizes recent webhook traffic.
type Health struct {
	Status          string    `json:"status"`
	EventsLast24h   int64     `json:"events_last_24h"`
	WindowStartedAt time.Time `json:"window_started_at"`
}

type persister interface {
	Persist(ctx context.Context, ev events.Normalized) (syncer.Stored, error)
}

type eventCounter interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ServiceParams groups dependencies for webhook intake. Guard is optional.
type ServiceParams struct {
	Persister persister
	Events    eventCounter
	Guard     guard
	Logger    *logger.Logger
	Clock     func() time.Time
}

// Service ingests pushed deliveries through the same normalizer and
// repositories as the pull sync. Webhooks never move the sync watermark.
type Service struct {
	persister persister
	events    eventCounter
	guard     guard
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Persister == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event persister required")
	}
	if p.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repository required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{persister: p.Persister, events: p.Events, guard: p.Guard, logg: logg, now: clock}, nil
}

// HandleDelivery stores one webhook body. Redeliveries of the same body
// resolve to StatusDuplicate.
func (s *Service) HandleDelivery(ctx context.Context, payload []byte) (Receipt, error) {
	eventID := DeliveryID(payload)
	ctx = s.logg.WithField(ctx, "event_id", eventID)

	rec := events.ClassifyWebhook(payload, eventID, s.now())
	if rec.Kind == events.KindUnknown {
		return Receipt{}, pkgerrors.New(pkgerrors.CodeValidation, "payload must be a JSON object with event_type")
	}
	receipt := Receipt{EventID: eventID, EventType: rec.Webhook.EventType}

	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, eventID)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency guard unavailable; falling back to database")
		} else if seen {
			receipt.Status = StatusDuplicate
			return receipt, nil
		}
	}

	exists, err := s.events.Exists(ctx, eventID)
	if err != nil {
		s.forget(ctx, eventID)
		return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing event")
	}
	if exists {
		receipt.Status = StatusDuplicate
		return receipt, nil
	}

	ev, err := events.Normalize(rec)
	if err != nil {
		s.forget(ctx, eventID)
		if errors.Is(err, events.ErrMalformed) {
			return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
		}
		return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "normalize webhook")
	}

	stored, err := s.persister.Persist(ctx, ev)
	if err != nil {
		s.forget(ctx, eventID)
		return Receipt{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist webhook event")
	}

	receipt.Status = StatusProcessed
	if stored.Event == events.InsertOutcomeDuplicate {
		receipt.Status = StatusDuplicate
	}
	s.logg.Info(s.logg.WithField(ctx, "event_type", ev.RawType), "webhook event processed")
	return receipt, nil
}

// Health counts events stored in the last 24 hours.
func (s *Service) Health(ctx context.Context) (Health, error) {
	since := s.now().UTC().Add(-24 * time.Hour)
	count, err := s.events.CountSince(ctx, since)
	if err != nil {
		return Health{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count recent events")
	}
	return Health{Status: "healthy", EventsLast24h: count, WindowStartedAt: since}, nil
}

func (s *Service) forget(ctx context.Context, eventID string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Delete(context.WithoutCancel(ctx), eventID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to clear idempotency key")
	}
}
