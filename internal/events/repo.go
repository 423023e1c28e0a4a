package events

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/repo"
	"github.com/angelmondragon/engagement-tracker/pkg/db"
	"github.com/angelmondragon/engagement-tracker/pkg/db/models"
	dbtypes "github.com/angelmondragon/engagement-tracker/pkg/db/types"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	"github.com/angelmondragon/engagement-tracker/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const eventIDConstraint = "events_event_id_key"

// InsertOutcome reports what happened to a single insert.
type InsertOutcome string

const (
	InsertOutcomeInserted  InsertOutcome = "inserted"
	InsertOutcomeDuplicate InsertOutcome = "duplicate"
)

// NewEvent is the row the store persists for one normalized record.
type NewEvent struct {
	EventID      string
	Type         enums.EventType
	RawType      string
	SubscriberID int64
	EmailID      *string
	LinkURL      *string
	CreatedAt    time.Time
	Raw          []byte
}

// FeedItem is one entry of a subscriber's event feed.
type FeedItem struct {
	ID        int64                `json:"id"`
	EventID   string               `json:"event_id"`
	EventType enums.EventType      `json:"event_type"`
	RawType   string               `json:"raw_type"`
	EmailID   *string              `json:"email_id,omitempty"`
	LinkURL   *string              `json:"link_url,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	Metadata  dbtypes.JSONDocument `json:"metadata"`
}

// FeedPage is a newest-first slice of a subscriber's events.
type FeedPage struct {
	Items      []FeedItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// Repository is the append-only event store.
type Repository struct {
	base repo.Base
	now  func() time.Time
}

// NewRepository constructs an event store bound to the provided gorm DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(conn), now: time.Now}
}

// WithTx returns a copy of the store that writes through tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{base: r.base.WithTx(tx), now: r.now}
}

// Insert persists an event once per provider event id. A repeated id is
// reported as InsertOutcomeDuplicate, not as an error.
func (r *Repository) Insert(ctx context.Context, ev NewEvent) (InsertOutcome, error) {
	if ev.EventID == "" {
		return "", fmt.Errorf("event id is required")
	}
	if ev.SubscriberID <= 0 {
		return "", fmt.Errorf("event %s: subscriber id is required", ev.EventID)
	}
	if !ev.Type.IsValid() {
		return "", fmt.Errorf("event %s: invalid event type %q", ev.EventID, ev.Type)
	}

	row := models.Event{
		EventID:      ev.EventID,
		SubscriberID: ev.SubscriberID,
		EventType:    ev.Type,
		RawType:      ev.RawType,
		EmailID:      ev.EmailID,
		LinkURL:      ev.LinkURL,
		Metadata:     dbtypes.JSONDocument(ev.Raw),
		CreatedAt:    ev.CreatedAt.UTC(),
		IngestedAt:   r.now().UTC(),
	}

	res := r.base.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, eventIDConstraint) || db.IsUniqueViolation(res.Error, "events.event_id") {
			return InsertOutcomeDuplicate, nil
		}
		return "", fmt.Errorf("inserting event %s: %w", ev.EventID, res.Error)
	}
	if res.RowsAffected == 0 {
		return InsertOutcomeDuplicate, nil
	}
	return InsertOutcomeInserted, nil
}

// Exists reports whether an event id is already stored.
func (r *Repository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := r.base.DB(ctx).Model(&models.Event{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountSince counts events whose provider timestamp is at or after since.
func (r *Repository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.base.DB(ctx).Model(&models.Event{}).Where("created_at >= ?", since.UTC()).Count(&count).Error
	return count, err
}

// ListForSubscriber returns the subscriber's events newest first, resuming
// after cursor when one is given.
func (r *Repository) ListForSubscriber(ctx context.Context, subscriberID int64, cursor string, limit int) (FeedPage, error) {
	decoded, err := pagination.ParseCursor(cursor)
	if err != nil {
		return FeedPage{}, err
	}
	normalized := pagination.NormalizeLimit(limit)

	q := r.base.DB(ctx).
		Model(&models.Event{}).
		Where("subscriber_id = ?", subscriberID)
	if decoded != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", decoded.CreatedAt, decoded.CreatedAt, decoded.ID)
	}

	var rows []models.Event
	if err := q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return FeedPage{}, err
	}

	page := FeedPage{Items: make([]FeedItem, 0, min(len(rows), normalized))}
	for i, row := range rows {
		if i == normalized {
			last := rows[i-1]
			page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, FeedItem{
			ID:        row.ID,
			EventID:   row.EventID,
			EventType: row.EventType,
			RawType:   row.RawType,
			EmailID:   row.EmailID,
			LinkURL:   row.LinkURL,
			CreatedAt: row.CreatedAt.UTC(),
			Metadata:  row.Metadata,
		})
	}
	return page, nil
}
