package subscribers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/repo"
	"github.com/angelmondragon/engagement-tracker/pkg/db/models"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Upsert carries what one event knows about a subscriber. Nil fields are
// unknown and leave stored values untouched.
type Upsert struct {
	ExternalID       string
	Email            *string
	FirstName        *string
	LastName         *string
	Source           *string
	SubscriptionDate *time.Time
	Status           *enums.SubscriberStatus
	ObservedAt       time.Time
}

// Result describes the row after GetOrCreate and what the call did to it.
type Result struct {
	Subscriber models.Subscriber
	Created    bool
	Updated    bool
	// EmailConflict is set when the incoming email already belongs to another
	// subscriber and was therefore not applied.
	EmailConflict bool
}

// Repository owns subscriber rows.
type Repository struct {
	base repo.Base
	now  func() time.Time
}

// NewRepository constructs a subscriber repository bound to the provided gorm DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{base: repo.NewBase(conn), now: time.Now}
}

// WithTx returns a copy of the repository that writes through tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{base: r.base.WithTx(tx), now: r.now}
}

// FindByExternalID loads a subscriber by provider id. It returns
// gorm.ErrRecordNotFound when none exists.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.Subscriber, error) {
	var row models.Subscriber
	if err := r.base.DB(ctx).Where("buttondown_id = ?", externalID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// GetOrCreate returns the subscriber for in.ExternalID, inserting it when
// unseen and merging non-empty profile fields otherwise. Calling it twice
// for the same id never yields two rows.
func (r *Repository) GetOrCreate(ctx context.Context, in Upsert) (Result, error) {
	if in.ExternalID == "" {
		return Result{}, fmt.Errorf("subscriber external id is required")
	}

	existing, err := r.FindByExternalID(ctx, in.ExternalID)
	switch {
	case err == nil:
		return r.merge(ctx, *existing, in)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Result{}, fmt.Errorf("loading subscriber %s: %w", in.ExternalID, err)
	}

	res, err := r.create(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if res.Created {
		return res, nil
	}

	// Lost an insert race; the row exists now.
	existing, err = r.FindByExternalID(ctx, in.ExternalID)
	if err != nil {
		return Result{}, fmt.Errorf("re-reading subscriber %s: %w", in.ExternalID, err)
	}
	return r.merge(ctx, *existing, in)
}

func (r *Repository) create(ctx context.Context, in Upsert) (Result, error) {
	now := r.now().UTC()
	row := models.Subscriber{
		ButtondownID:     in.ExternalID,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Source:           in.Source,
		Status:           enums.SubscriberStatusActive,
		SubscriptionDate: utcPtr(in.SubscriptionDate),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Status != nil {
		observed := in.ObservedAt.UTC()
		row.Status = *in.Status
		row.StatusChangedAt = &observed
	}

	conflict := false
	if in.Email != nil {
		taken, err := r.emailTaken(ctx, *in.Email, 0)
		if err != nil {
			return Result{}, err
		}
		if taken {
			conflict = true
		} else {
			row.Email = in.Email
		}
	}

	res := r.base.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "buttondown_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return Result{}, fmt.Errorf("inserting subscriber %s: %w", in.ExternalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return Result{}, nil
	}
	return Result{Subscriber: row, Created: true, EmailConflict: conflict}, nil
}

func (r *Repository) merge(ctx context.Context, row models.Subscriber, in Upsert) (Result, error) {
	changes := map[string]any{}
	out := Result{}

	if in.Email != nil && !sameString(row.Email, in.Email) {
		taken, err := r.emailTaken(ctx, *in.Email, row.ID)
		if err != nil {
			return Result{}, err
		}
		if taken {
			out.EmailConflict = true
		} else {
			changes["email"] = *in.Email
			row.Email = in.Email
		}
	}
	if in.FirstName != nil && !sameString(row.FirstName, in.FirstName) {
		changes["first_name"] = *in.FirstName
		row.FirstName = in.FirstName
	}
	if in.LastName != nil && !sameString(row.LastName, in.LastName) {
		changes["last_name"] = *in.LastName
		row.LastName = in.LastName
	}
	if in.Source != nil && !sameString(row.Source, in.Source) {
		changes["source"] = *in.Source
		row.Source = in.Source
	}
	if in.SubscriptionDate != nil && row.SubscriptionDate == nil {
		changes["subscription_date"] = in.SubscriptionDate.UTC()
		row.SubscriptionDate = utcPtr(in.SubscriptionDate)
	}

	if status, changedAt, ok := nextStatus(row, in); ok {
		changes["status"] = status
		changes["status_changed_at"] = changedAt
		row.Status = status
		row.StatusChangedAt = &changedAt
	}

	if len(changes) == 0 {
		out.Subscriber = row
		return out, nil
	}

	now := r.now().UTC()
	changes["updated_at"] = now
	if err := r.base.DB(ctx).Model(&models.Subscriber{}).Where("id = ?", row.ID).Updates(changes).Error; err != nil {
		return Result{}, fmt.Errorf("updating subscriber %s: %w", row.ButtondownID, err)
	}
	row.UpdatedAt = now
	out.Subscriber = row
	out.Updated = true
	return out, nil
}

// nextStatus applies status transitions. Unsubscribes always win; other
// transitions only apply when the event is newer than the last change.
func nextStatus(row models.Subscriber, in Upsert) (enums.SubscriberStatus, time.Time, bool) {
	if in.Status == nil {
		return "", time.Time{}, false
	}
	observed := in.ObservedAt.UTC()
	target := *in.Status

	if target == enums.SubscriberStatusUnsubscribed {
		if row.Status == target {
			return "", time.Time{}, false
		}
		if row.StatusChangedAt != nil && row.StatusChangedAt.After(observed) {
			observed = row.StatusChangedAt.UTC()
		}
		return target, observed, true
	}

	if row.Status == target {
		return "", time.Time{}, false
	}
	if row.StatusChangedAt != nil && !observed.After(*row.StatusChangedAt) {
		return "", time.Time{}, false
	}
	return target, observed, true
}

func (r *Repository) emailTaken(ctx context.Context, email string, exceptID int64) (bool, error) {
	var count int64
	q := r.base.DB(ctx).Model(&models.Subscriber{}).Where("email = ?", email)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking email ownership: %w", err)
	}
	return count > 0, nil
}

func sameString(current, incoming *string) bool {
	return current != nil && incoming != nil && *current == *incoming
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
