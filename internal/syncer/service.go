package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/buttondown"
	"github.com/angelmondragon/engagement-tracker/internal/watermarks"
	dbtypes "github.com/angelmondragon/engagement-tracker/pkg/db/types"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
)

// Lock guards one stream against overlapping runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory returns a fresh lock handle for a stream.
type LockFactory func(stream string) (Lock, error)

// State is the stored bookkeeping for a stream plus the first-run default.
type State struct {
	Stream              string               `json:"stream"`
	LastSyncedAt        *time.Time           `json:"last_synced_at"`
	DefaultLookbackDays int                  `json:"default_lookback_days"`
	PendingInitialSync  bool                 `json:"pending_initial_sync"`
	LastAttemptAt       *time.Time           `json:"last_attempt_at,omitempty"`
	LastSuccessAt       *time.Time           `json:"last_success_at,omitempty"`
	LastError           *string              `json:"last_error,omitempty"`
	LastResult          dbtypes.JSONDocument `json:"last_result,omitempty"`
}

// Runner is what callers use to trigger and inspect syncs.
type Runner interface {
	RunSync(ctx context.Context, stream string, since *time.Time) (Result, error)
	State(ctx context.Context, stream string) (State, error)
	DefaultStream() string
}

// ServiceParams groups dependencies for the sync service.
type ServiceParams struct {
	Synchronizer  *Synchronizer
	Watermarks    *watermarks.Store
	Locks         LockFactory
	DefaultStream string
	Logger        *logger.Logger
}

type service struct {
	sync          *Synchronizer
	watermarks    *watermarks.Store
	locks         LockFactory
	defaultStream string
	logg          *logger.Logger
}

// NewService wires the synchronizer behind a per-stream lock.
func NewService(p ServiceParams) (Runner, error) {
	if p.Synchronizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "synchronizer is required")
	}
	if p.Watermarks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "watermark store is required")
	}
	if p.Locks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lock factory is required")
	}
	stream := strings.TrimSpace(p.DefaultStream)
	if stream == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "default stream is required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		sync:          p.Synchronizer,
		watermarks:    p.Watermarks,
		locks:         p.Locks,
		defaultStream: stream,
		logg:          logg,
	}, nil
}

func (s *service) DefaultStream() string { return s.defaultStream }

// RunSync runs one sync for stream under its lock. A concurrent run for the
// same stream fails with a conflict.
func (s *service) RunSync(ctx context.Context, stream string, since *time.Time) (Result, error) {
	stream = s.resolve(stream)

	lock, err := s.locks(stream)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build sync lock")
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire sync lock")
	}
	if !acquired {
		return Result{}, pkgerrors.Newf(pkgerrors.CodeConflict, "sync already running for %s", stream).
			WithDetails(map[string]any{"stream": stream})
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release sync lock", relErr)
		}
	}()

	res, err := s.sync.Run(ctx, stream, since)
	if err != nil {
		return Result{}, translateRunError(err)
	}
	return res, nil
}

// State returns the stream's watermark and bookkeeping.
func (s *service) State(ctx context.Context, stream string) (State, error) {
	stream = s.resolve(stream)
	row, err := s.watermarks.State(ctx, stream)
	if err != nil {
		return State{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load sync state")
	}
	out := State{
		Stream:              stream,
		DefaultLookbackDays: s.sync.LookbackDays(),
		PendingInitialSync:  true,
	}
	if row == nil {
		return out, nil
	}
	out.LastSyncedAt = row.LastSyncedAt
	out.PendingInitialSync = row.LastSyncedAt == nil
	out.LastAttemptAt = row.LastAttemptAt
	out.LastSuccessAt = row.LastSuccessAt
	out.LastError = row.LastError
	out.LastResult = row.LastResult
	return out, nil
}

func (s *service) resolve(stream string) string {
	if stream = strings.TrimSpace(stream); stream == "" {
		return s.defaultStream
	}
	return stream
}

// translateRunError maps a failed run onto a coded error, keeping the
// RunError reachable through Unwrap.
func translateRunError(err error) error {
	var runErr *RunError
	if !errors.As(err, &runErr) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sync failed")
	}
	details := runErr.Details()

	var apiErr *buttondown.APIError
	var decodeErr *buttondown.DecodeError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync interrupted before completion").WithDetails(details)
	case errors.As(err, &apiErr):
		details["upstream_status"] = apiErr.StatusCode
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, fmt.Sprintf("provider returned %d", apiErr.StatusCode)).WithDetails(details)
	case errors.As(err, &decodeErr), errors.Is(err, buttondown.ErrCircuitOpen):
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "provider request failed").WithDetails(details)
	case runErr.Stage == StageFetch:
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "provider unreachable").WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sync failed").WithDetails(details)
	}
}
