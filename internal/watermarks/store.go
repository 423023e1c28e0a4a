package watermarks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/repo"
	"github.com/angelmondragon/engagement-tracker/pkg/db/models"
	dbtypes "github.com/angelmondragon/engagement-tracker/pkg/db/types"
	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxErrorLength = 2000

// Store persists one watermark row per sync stream.
type Store struct {
	base repo.Base
	now  func() time.Time
}

// NewStore constructs a watermark store bound to the provided gorm DB.
func NewStore(conn *gorm.DB) *Store {
	return &Store{base: repo.NewBase(conn), now: time.Now}
}

// WithTx returns a copy of the store that writes through tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{base: s.base.WithTx(tx), now: s.now}
}

// Read returns the stream's watermark, or nil when it has never synced.
func (s *Store) Read(ctx context.Context, stream string) (*time.Time, error) {
	state, err := s.State(ctx, stream)
	if err != nil || state == nil || state.LastSyncedAt == nil {
		return nil, err
	}
	at := state.LastSyncedAt.UTC()
	return &at, nil
}

// State returns the full bookkeeping row, or nil when none exists.
func (s *Store) State(ctx context.Context, stream string) (*models.SyncState, error) {
	var row models.SyncState
	err := s.base.DB(ctx).Where("stream = ?", stream).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state %s: %w", stream, err)
	}
	return &row, nil
}

// Advance moves the watermark forward to at. Values at or behind the stored
// watermark are ignored. The boolean reports whether the row changed.
func (s *Store) Advance(ctx context.Context, stream string, at time.Time) (bool, error) {
	if stream == "" {
		return false, fmt.Errorf("stream name is required")
	}
	at = at.UTC()
	now := s.now().UTC()

	db := s.base.DB(ctx)
	if err := s.ensureRow(db, stream, now); err != nil {
		return false, err
	}

	res := db.Model(&models.SyncState{}).
		Where("stream = ? AND (last_synced_at IS NULL OR last_synced_at < ?)", stream, at).
		Updates(map[string]any{"last_synced_at": at, "updated_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("advancing watermark %s: %w", stream, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordAttempt stamps the start of a run.
func (s *Store) RecordAttempt(ctx context.Context, stream string, at time.Time) error {
	at = at.UTC()
	row := models.SyncState{Stream: stream, LastAttemptAt: &at, UpdatedAt: s.now().UTC()}
	return s.upsert(ctx, &row, "last_attempt_at", "updated_at")
}

// RecordFailure stores the error of a run that did not complete.
func (s *Store) RecordFailure(ctx context.Context, stream string, runErr error) error {
	msg := "unknown error"
	if runErr != nil {
		msg = runErr.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	row := models.SyncState{Stream: stream, LastError: &msg, UpdatedAt: s.now().UTC()}
	return s.upsert(ctx, &row, "last_error", "updated_at")
}

// RecordSuccess stores the counters of a completed run and clears the last error.
func (s *Store) RecordSuccess(ctx context.Context, stream string, at time.Time, result any) error {
	at = at.UTC()
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding sync result: %w", err)
	}
	row := models.SyncState{
		Stream:        stream,
		LastSuccessAt: &at,
		LastResult:    dbtypes.JSONDocument(doc),
		UpdatedAt:     s.now().UTC(),
	}
	return s.upsert(ctx, &row, "last_success_at", "last_error", "last_result", "updated_at")
}

func (s *Store) ensureRow(db *gorm.DB, stream string, now time.Time) error {
	row := models.SyncState{Stream: stream, UpdatedAt: now}
	err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "stream"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("initializing sync state %s: %w", stream, err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, row *models.SyncState, columns ...string) error {
	if row.Stream == "" {
		return fmt.Errorf("stream name is required")
	}
	err := s.base.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stream"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("updating sync state %s: %w", row.Stream, err)
	}
	return nil
}
