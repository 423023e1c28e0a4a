package models

import (
	"time"

	dbtypes "github.com/angelmondragon/engagement-tracker/pkg/db/types"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
)

// Event is an immutable engagement record. EventID is the provider's
// identifier and doubles as the idempotency key.
type Event struct {
	ID           int64                `gorm:"column:id;primaryKey;autoIncrement"`
	EventID      string               `gorm:"column:event_id;not null;uniqueIndex"`
	SubscriberID int64                `gorm:"column:subscriber_id;not null"`
	EventType    enums.EventType      `gorm:"column:event_type;not null"`
	RawType      string               `gorm:"column:raw_type;not null"`
	EmailID      *string              `gorm:"column:email_id"`
	LinkURL      *string              `gorm:"column:link_url"`
	Metadata     dbtypes.JSONDocument `gorm:"column:event_metadata"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime:false;not null"`
	IngestedAt   time.Time            `gorm:"column:ingested_at"`
}

func (Event) TableName() string { return "events" }
