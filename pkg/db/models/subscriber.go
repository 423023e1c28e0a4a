package models

import (
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/enums"
)

// Subscriber is the local mirror of a newsletter subscriber, keyed by the
// provider's identifier.
type Subscriber struct {
	ID               int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	ButtondownID     string                 `gorm:"column:buttondown_id;not null;uniqueIndex"`
	Email            *string                `gorm:"column:email;uniqueIndex"`
	FirstName        *string                `gorm:"column:first_name"`
	LastName         *string                `gorm:"column:last_name"`
	Status           enums.SubscriberStatus `gorm:"column:status;not null;default:active"`
	StatusChangedAt  *time.Time             `gorm:"column:status_changed_at"`
	SubscriptionDate *time.Time             `gorm:"column:subscription_date"`
	Source           *string                `gorm:"column:source"`
	CreatedAt        time.Time              `gorm:"column:created_at"`
	UpdatedAt        time.Time              `gorm:"column:updated_at"`
}

func (Subscriber) TableName() string { return "subscribers" }
