package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/db"
	"github.com/angelmondragon/engagement-tracker/pkg/db/models"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
)

// engagementTypes are the event types that count as engagement.
var engagementTypes = []enums.EventType{enums.EventTypeOpened, enums.EventTypeClicked}

const (
	opensExpr  = "SUM(CASE WHEN e.event_type = 'opened' THEN 1 ELSE 0 END)"
	clicksExpr = "SUM(CASE WHEN e.event_type = 'clicked' THEN 1 ELSE 0 END)"
	totalExpr  = "COUNT(*)"
)

var rankExpr = map[enums.EngagementMetric]string{
	enums.MetricOpens:  opensExpr,
	enums.MetricClicks: clicksExpr,
	enums.MetricTotal:  totalExpr,
}

// Repository runs read-only aggregations over subscribers and events.
type Repository struct {
	client *db.Client
}

// NewRepository binds the aggregations to a database client.
func NewRepository(client *db.Client) *Repository {
	return &Repository{client: client}
}

type windowCounts struct {
	TotalOpens  int64
	TotalClicks int64
	Engaged     int64
}

type subscriberCounts struct {
	Total  int64
	Active int64
}

func (r *Repository) subscriberCounts(ctx context.Context) (subscriberCounts, error) {
	var out subscriberCounts
	err := r.client.DB().WithContext(ctx).
		Model(&models.Subscriber{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active", enums.SubscriberStatusActive).
		Scan(&out).Error
	if err != nil {
		return subscriberCounts{}, fmt.Errorf("counting subscribers: %w", err)
	}
	return out, nil
}

func (r *Repository) windowCounts(ctx context.Context, start, end time.Time) (windowCounts, error) {
	var out windowCounts
	err := r.client.Raw(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN event_type = 'opened' THEN 1 ELSE 0 END), 0) AS total_opens,
			COALESCE(SUM(CASE WHEN event_type = 'clicked' THEN 1 ELSE 0 END), 0) AS total_clicks,
			COUNT(DISTINCT subscriber_id) AS engaged
		FROM events
		WHERE event_type IN ? AND created_at >= ? AND created_at <= ?`,
		engagementTypes, start.UTC(), end.UTC(),
	).Scan(&out).Error
	if err != nil {
		return windowCounts{}, fmt.Errorf("counting engagement: %w", err)
	}
	return out, nil
}

// TopSubscriber is one ranked row.
type TopSubscriber struct {
	SubscriberID    string  `json:"subscriber_id"`
	Email           *string `json:"email"`
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	TotalOpens      int64   `json:"total_opens"`
	TotalClicks     int64   `json:"total_clicks"`
	TotalEngagement int64   `json:"total_engagement"`
}

// topSubscribers ranks subscribers with at least one event counted by metric.
func (r *Repository) topSubscribers(ctx context.Context, metric enums.EngagementMetric, limit int) ([]TopSubscriber, error) {
	expr, ok := rankExpr[metric]
	if !ok {
		return nil, fmt.Errorf("unsupported metric %q", metric)
	}
	query := fmt.Sprintf(`
		SELECT
			s.buttondown_id AS subscriber_id,
			s.email,
			s.first_name,
			s.last_name,
			%s AS total_opens,
			%s AS total_clicks,
			%s AS total_engagement
		FROM subscribers s
		JOIN events e ON e.subscriber_id = s.id
		WHERE e.event_type IN ?
		GROUP BY s.id, s.buttondown_id, s.email, s.first_name, s.last_name
		HAVING %s > 0
		ORDER BY %s DESC, s.buttondown_id ASC
		LIMIT ?`, opensExpr, clicksExpr, totalExpr, expr, expr)

	var rows []TopSubscriber
	if err := r.client.Raw(ctx, query, engagementTypes, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("ranking subscribers: %w", err)
	}
	if rows == nil {
		rows = []TopSubscriber{}
	}
	return rows, nil
}

type dayCount struct {
	Day    string
	Opens  int64
	Clicks int64
}

func (r *Repository) dailyCounts(ctx context.Context, start time.Time) ([]dayCount, error) {
	day := r.client.DayExpr("created_at")
	query := fmt.Sprintf(`
		SELECT
			%s AS day,
			SUM(CASE WHEN event_type = 'opened' THEN 1 ELSE 0 END) AS opens,
			SUM(CASE WHEN event_type = 'clicked' THEN 1 ELSE 0 END) AS clicks
		FROM events
		WHERE event_type IN ? AND created_at >= ?
		GROUP BY %s
		ORDER BY day ASC`, day, day)

	var rows []dayCount
	if err := r.client.Raw(ctx, query, engagementTypes, start.UTC()).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("bucketing events by day: %w", err)
	}
	return rows, nil
}
