package models

import (
	"time"

	dbtypes "github.com/angelmondragon/engagement-tracker/pkg/db/types"
)

// SyncState is the persisted watermark and bookkeeping for one ingestion stream.
type SyncState struct {
	Stream        string               `gorm:"column:stream;primaryKey"`
	LastSyncedAt  *time.Time           `gorm:"column:last_synced_at"`
	LastAttemptAt *time.Time           `gorm:"column:last_attempt_at"`
	LastSuccessAt *time.Time           `gorm:"column:last_success_at"`
	LastError     *string              `gorm:"column:last_error"`
	LastResult    dbtypes.JSONDocument `gorm:"column:last_result"`
	UpdatedAt     time.Time            `gorm:"column:updated_at"`
}

func (SyncState) TableName() string { return "sync_states" }
