package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/buttondown"
	"github.com/angelmondragon/engagement-tracker/internal/events"
	"github.com/angelmondragon/engagement-tracker/internal/subscribers"
	"github.com/angelmondragon/engagement-tracker/internal/watermarks"
	"github.com/angelmondragon/engagement-tracker/pkg/db"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/metrics"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultLookbackDays = 30

// Params groups dependencies for the Synchronizer.
type Params struct {
	DB           *db.Client
	Source       buttondown.EventSource
	Subscribers  *subscribers.Repository
	Events       *events.Repository
	Watermarks   *watermarks.Store
	LookbackDays int
	Overlap      time.Duration
	Logger       *logger.Logger
	Metrics      *metrics.SyncMetrics
	Clock        func() time.Time
}

// Synchronizer pulls provider events into the local store and advances the
// stream watermark after each complete run. Callers serialize runs per stream.
type Synchronizer struct {
	db           *db.Client
	source       buttondown.EventSource
	subscribers  *subscribers.Repository
	events       *events.Repository
	watermarks   *watermarks.Store
	lookbackDays int
	overlap      time.Duration
	logg         *logger.Logger
	metrics      *metrics.SyncMetrics
	now          func() time.Time
}

// New validates params and builds a Synchronizer.
func New(p Params) (*Synchronizer, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if p.Source == nil {
		return nil, fmt.Errorf("event source required")
	}
	if p.Subscribers == nil || p.Events == nil || p.Watermarks == nil {
		return nil, fmt.Errorf("subscriber, event, and watermark stores required")
	}
	if p.Overlap < 0 {
		return nil, fmt.Errorf("overlap must not be negative")
	}
	lookback := p.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Synchronizer{
		db:           p.DB,
		source:       p.Source,
		subscribers:  p.Subscribers,
		events:       p.Events,
		watermarks:   p.Watermarks,
		lookbackDays: lookback,
		overlap:      p.Overlap,
		logg:         logg,
		metrics:      p.Metrics,
		now:          clock,
	}, nil
}

// LookbackDays reports the first-run window length.
func (s *Synchronizer) LookbackDays() int { return s.lookbackDays }

// run holds the mutable state of one invocation.
type run struct {
	result     Result
	fetchFrom  time.Time
	touched    map[string]struct{}
	maxCreated *time.Time
}

// Run ingests every upstream event after the window start for stream. On
// success the watermark moves to the newest event seen; on failure the
// returned *RunError carries the unchanged watermark.
func (s *Synchronizer) Run(ctx context.Context, stream string, since *time.Time) (Result, error) {
	started := s.now().UTC()
	runID := uuid.NewString()
	ctx = s.logg.WithRunID(s.logg.WithStream(ctx, stream), runID)

	r := &run{touched: map[string]struct{}{}}
	r.result.RunID = runID
	r.result.Stream = stream
	r.result.StartedAt = started
	if since != nil {
		at := since.UTC()
		r.result.RequestedSince = &at
	}

	if err := s.watermarks.RecordAttempt(ctx, stream, started); err != nil {
		return s.fail(ctx, r, StageState, err)
	}
	previous, err := s.watermarks.Read(ctx, stream)
	if err != nil {
		return s.fail(ctx, r, StageState, err)
	}
	r.result.PreviousWatermark = previous

	r.result.WindowStart = s.windowStart(started, since, previous)
	r.fetchFrom = r.result.WindowStart.Add(-s.overlap)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"window_start": r.result.WindowStart,
		"fetch_from":   r.fetchFrom,
		"manual":       since != nil,
	}), "sync run starting")

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, r, StageFetch, err)
		}
		page, err := s.source.FetchEvents(ctx, r.fetchFrom, cursor)
		if err != nil {
			return s.fail(ctx, r, StageFetch, err)
		}
		r.result.Pages++

		for _, raw := range page.Results {
			outcome, err := s.processRecord(ctx, r, raw)
			if err != nil {
				return s.fail(ctx, r, StagePersist, err)
			}
			r.result.tally(outcome)
		}

		next := page.NextCursor()
		if next == "" {
			break
		}
		if next == cursor {
			return s.fail(ctx, r, StageFetch, fmt.Errorf("provider returned the same next page %q", next))
		}
		cursor = next
	}

	return s.finish(ctx, r)
}

func (s *Synchronizer) windowStart(now time.Time, since, watermark *time.Time) time.Time {
	switch {
	case since != nil:
		return since.UTC()
	case watermark != nil:
		return watermark.UTC()
	default:
		return now.AddDate(0, 0, -s.lookbackDays)
	}
}

// processRecord returns a per-record outcome; only storage failures are errors.
func (s *Synchronizer) processRecord(ctx context.Context, r *run, raw json.RawMessage) (Outcome, error) {
	ev, err := events.Normalize(events.ClassifyAPIRecord(raw))
	if err != nil {
		if errors.Is(err, events.ErrMalformed) {
			s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "skipping malformed event record")
			return OutcomeMalformed, nil
		}
		return "", err
	}
	if !ev.CreatedAt.After(r.fetchFrom) {
		return OutcomeOutsideWindow, nil
	}

	stored, err := s.Persist(ctx, ev)
	if err != nil {
		return "", err
	}

	r.touched[ev.SubscriberExternalID] = struct{}{}
	r.result.SubscribersTouched = len(r.touched)
	if stored.SubscriberCreated {
		r.result.SubscribersCreated++
	} else if stored.SubscriberUpdated {
		r.result.SubscribersUpdated++
	}
	if r.maxCreated == nil || ev.CreatedAt.After(*r.maxCreated) {
		at := ev.CreatedAt
		r.maxCreated = &at
	}

	if stored.Event == events.InsertOutcomeDuplicate {
		return OutcomeDuplicate, nil
	}
	return OutcomeCreated, nil
}

// Stored reports what Persist wrote.
type Stored struct {
	Event             events.InsertOutcome
	SubscriberID      int64
	SubscriberCreated bool
	SubscriberUpdated bool
}

// Persist writes one normalized event and its subscriber in a single
// transaction, so readers never see an event without its subscriber.
func (s *Synchronizer) Persist(ctx context.Context, ev events.Normalized) (Stored, error) {
	var out Stored
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.subscribers.WithTx(tx).GetOrCreate(ctx, subscribers.Upsert{
			ExternalID:       ev.SubscriberExternalID,
			Email:            ev.Profile.Email,
			FirstName:        ev.Profile.FirstName,
			LastName:         ev.Profile.LastName,
			Source:           ev.Profile.Source,
			SubscriptionDate: ev.Profile.SubscriptionDate,
			Status:           ev.StatusChange,
			ObservedAt:       ev.CreatedAt,
		})
		if err != nil {
			return err
		}
		if sub.EmailConflict {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"subscriber_id": ev.SubscriberExternalID,
				"event_id":      ev.EventID,
			}), "email already belongs to another subscriber; keeping stored value")
		}

		outcome, err := s.events.WithTx(tx).Insert(ctx, events.NewEvent{
			EventID:      ev.EventID,
			Type:         ev.Type,
			RawType:      ev.RawType,
			SubscriberID: sub.Subscriber.ID,
			EmailID:      ev.EmailID,
			LinkURL:      ev.LinkURL,
			CreatedAt:    ev.CreatedAt,
			Raw:          ev.Raw,
		})
		if err != nil {
			return err
		}
		out = Stored{
			Event:             outcome,
			SubscriberID:      sub.Subscriber.ID,
			SubscriberCreated: sub.Created,
			SubscriberUpdated: sub.Updated,
		}
		return nil
	})
	if err != nil {
		return Stored{}, fmt.Errorf("persisting event %s: %w", ev.EventID, err)
	}
	return out, nil
}

func (s *Synchronizer) finish(ctx context.Context, r *run) (Result, error) {
	r.result.LatestEventAt = r.maxCreated
	r.result.NewWatermark = r.result.PreviousWatermark

	if r.maxCreated != nil {
		if _, err := s.watermarks.Advance(ctx, r.result.Stream, *r.maxCreated); err != nil {
			return s.fail(ctx, r, StageFinalize, err)
		}
		current, err := s.watermarks.Read(ctx, r.result.Stream)
		if err != nil {
			return s.fail(ctx, r, StageFinalize, err)
		}
		r.result.NewWatermark = current
	}

	r.result.FinishedAt = s.now().UTC()
	if err := s.watermarks.RecordSuccess(ctx, r.result.Stream, r.result.FinishedAt, r.result); err != nil {
		s.logg.Error(ctx, "failed to record sync result", err)
	}

	s.observe(r.result, "success")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"events_created":      r.result.EventsCreated,
		"events_skipped":      r.result.EventsSkipped,
		"duplicates":          r.result.Skipped.Duplicate,
		"malformed":           r.result.Skipped.Malformed,
		"outside_window":      r.result.Skipped.OutsideWindow,
		"subscribers_touched": r.result.SubscribersTouched,
		"pages":               r.result.Pages,
		"new_watermark":       r.result.NewWatermark,
	}), "sync run complete")
	return r.result, nil
}

func (s *Synchronizer) fail(ctx context.Context, r *run, stage Stage, err error) (Result, error) {
	r.result.FinishedAt = s.now().UTC()
	r.result.LatestEventAt = r.maxCreated
	r.result.NewWatermark = r.result.PreviousWatermark

	runErr := &RunError{
		Stream:      r.result.Stream,
		Stage:       stage,
		WindowStart: r.result.WindowStart,
		Watermark:   r.result.PreviousWatermark,
		Partial:     r.result,
		Err:         err,
	}

	// Bookkeeping must land even when the run was canceled.
	if recErr := s.watermarks.RecordFailure(context.WithoutCancel(ctx), r.result.Stream, runErr); recErr != nil {
		s.logg.Error(ctx, "failed to record sync failure", recErr)
	}

	outcome := "failure"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "canceled"
	}
	s.observe(r.result, outcome)
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"stage":          stage,
		"events_created": r.result.EventsCreated,
		"records_seen":   r.result.RecordsSeen,
	}), "sync run failed", err)
	return Result{}, runErr
}

func (s *Synchronizer) observe(res Result, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRun(res.Stream, outcome, res.FinishedAt.Sub(res.StartedAt))
	s.metrics.AddRecords(res.Stream, string(OutcomeCreated), res.EventsCreated)
	s.metrics.AddRecords(res.Stream, string(OutcomeDuplicate), res.Skipped.Duplicate)
	s.metrics.AddRecords(res.Stream, string(OutcomeMalformed), res.Skipped.Malformed)
	s.metrics.AddRecords(res.Stream, string(OutcomeOutsideWindow), res.Skipped.OutsideWindow)
	if res.NewWatermark != nil {
		s.metrics.SetWatermark(res.Stream, *res.NewWatermark)
	}
}
