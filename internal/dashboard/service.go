package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/events"
	"github.com/angelmondragon/engagement-tracker/internal/subscribers"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	DefaultWindow   = 30 * 24 * time.Hour
	DefaultTopLimit = 10
	MaxTopLimit     = 100
	DefaultDays     = 30
	MaxDays         = 365
)

// Stats summarizes subscribers and engagement inside a period.
type Stats struct {
	TotalSubscribers  int64     `json:"total_subscribers"`
	ActiveSubscribers int64     `json:"active_subscribers"`
	TotalOpens        int64     `json:"total_opens"`
	TotalClicks       int64     `json:"total_clicks"`
	EngagementRate    float64   `json:"engagement_rate"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
}

// TrendPoint is one UTC calendar day of engagement.
type TrendPoint struct {
	Date   string `json:"date"`
	Opens  int64  `json:"opens"`
	Clicks int64  `json:"clicks"`
	Total  int64  `json:"total"`
}

// Service exposes the dashboard read model.
type Service interface {
	Stats(ctx context.Context, start, end *time.Time) (Stats, error)
	TopSubscribers(ctx context.Context, limit int, metric enums.EngagementMetric) ([]TopSubscriber, error)
	Trends(ctx context.Context, days int) ([]TrendPoint, error)
	SubscriberEvents(ctx context.Context, subscriberID, cursor string, limit int) (events.FeedPage, error)
}

// ServiceParams groups dependencies for the dashboard service.
type ServiceParams struct {
	Repo        *Repository
	Subscribers *subscribers.Repository
	Events      *events.Repository
	Clock       func() time.Time
}

type service struct {
	repo        *Repository
	subscribers *subscribers.Repository
	events      *events.Repository
	now         func() time.Time
}

// NewService builds the dashboard service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dashboard repo is required")
	}
	if p.Subscribers == nil || p.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscriber and event repos are required")
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{repo: p.Repo, subscribers: p.Subscribers, events: p.Events, now: clock}, nil
}

// Stats defaults to the last 30 days ending now. The engagement rate is the
// share of all subscribers with an open or click in the period, as a
// percentage rounded to two places.
func (s *service) Stats(ctx context.Context, start, end *time.Time) (Stats, error) {
	periodEnd := s.now().UTC()
	if end != nil {
		periodEnd = end.UTC()
	}
	periodStart := periodEnd.Add(-DefaultWindow)
	if start != nil {
		periodStart = start.UTC()
	}
	if periodStart.After(periodEnd) {
		return Stats{}, pkgerrors.New(pkgerrors.CodeValidation, "start must not be after end")
	}

	subs, err := s.repo.subscriberCounts(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscriber counts")
	}
	counts, err := s.repo.windowCounts(ctx, periodStart, periodEnd)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load engagement counts")
	}

	return Stats{
		TotalSubscribers:  subs.Total,
		ActiveSubscribers: subs.Active,
		TotalOpens:        counts.TotalOpens,
		TotalClicks:       counts.TotalClicks,
		EngagementRate:    engagementRate(counts.Engaged, subs.Total),
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
	}, nil
}

func engagementRate(engaged, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return decimal.NewFromInt(engaged).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(total)).
		Round(2).
		InexactFloat64()
}

// TopSubscribers ranks subscribers that have at least one event counted by
// metric, highest first, ties broken by provider id.
func (s *service) TopSubscribers(ctx context.Context, limit int, metric enums.EngagementMetric) ([]TopSubscriber, error) {
	if limit == 0 {
		limit = DefaultTopLimit
	}
	if limit < 1 || limit > MaxTopLimit {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "limit must be between 1 and %d", MaxTopLimit)
	}
	if metric == "" {
		metric = enums.MetricOpens
	}
	if !metric.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid metric %q", metric)
	}
	rows, err := s.repo.topSubscribers(ctx, metric, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rank subscribers")
	}
	return rows, nil
}

// Trends returns exactly days points ending today (UTC), oldest first. Days
// without events are present with zero counts.
func (s *service) Trends(ctx context.Context, days int) ([]TrendPoint, error) {
	if days == 0 {
		days = DefaultDays
	}
	if days < 1 || days > MaxDays {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "days must be between 1 and %d", MaxDays)
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -(days - 1))

	rows, err := s.repo.dailyCounts(ctx, first)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load trends")
	}
	byDay := make(map[string]dayCount, len(rows))
	for _, row := range rows {
		byDay[row.Day] = row
	}

	points := make([]TrendPoint, 0, days)
	for d := first; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		row := byDay[key]
		points = append(points, TrendPoint{
			Date:   key,
			Opens:  row.Opens,
			Clicks: row.Clicks,
			Total:  row.Opens + row.Clicks,
		})
	}
	return points, nil
}

// SubscriberEvents returns one subscriber's events newest first.
func (s *service) SubscriberEvents(ctx context.Context, subscriberID, cursor string, limit int) (events.FeedPage, error) {
	if subscriberID == "" {
		return events.FeedPage{}, pkgerrors.New(pkgerrors.CodeValidation, "subscriber id is required")
	}
	if limit < 0 || limit > pagination.MaxLimit {
		return events.FeedPage{}, pkgerrors.Newf(pkgerrors.CodeValidation, "limit must be between 1 and %d", pagination.MaxLimit)
	}
	if _, err := pagination.ParseCursor(cursor); err != nil {
		return events.FeedPage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	sub, err := s.subscribers.FindByExternalID(ctx, subscriberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return events.FeedPage{}, pkgerrors.Newf(pkgerrors.CodeNotFound, "subscriber %s not found", subscriberID)
	}
	if err != nil {
		return events.FeedPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscriber")
	}
	page, err := s.events.ListForSubscriber(ctx, sub.ID, cursor, limit)
	if err != nil {
		return events.FeedPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscriber events")
	}
	return page, nil
}
