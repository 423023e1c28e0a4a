package syncer

import (
	"fmt"
	"time"
)

// Outcome classifies what happened to one upstream record.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeOutsideWindow Outcome = "outside_window"
)

// SkipBreakdown splits events_skipped by cause.
type SkipBreakdown struct {
	Duplicate     int `json:"duplicate"`
	Malformed     int `json:"malformed"`
	OutsideWindow int `json:"outside_window"`
}

// Result summarizes one completed run.
type Result struct {
	RunID              string        `json:"run_id"`
	Stream             string        `json:"stream"`
	EventsCreated      int           `json:"events_created"`
	EventsSkipped      int           `json:"events_skipped"`
	Skipped            SkipBreakdown `json:"skipped"`
	RecordsSeen        int           `json:"records_seen"`
	Pages              int           `json:"pages"`
	SubscribersCreated int           `json:"subscribers_created"`
	SubscribersUpdated int           `json:"subscribers_updated"`
	SubscribersTouched int           `json:"subscribers_touched"`
	LatestEventAt      *time.Time    `json:"latest_event_at"`
	PreviousWatermark  *time.Time    `json:"previous_watermark"`
	NewWatermark       *time.Time    `json:"new_watermark"`
	WindowStart        time.Time     `json:"window_start"`
	RequestedSince     *time.Time    `json:"requested_since"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
}

func (r *Result) tally(outcome Outcome) {
	r.RecordsSeen++
	switch outcome {
	case OutcomeCreated:
		r.EventsCreated++
	case OutcomeDuplicate:
		r.Skipped.Duplicate++
		r.EventsSkipped++
	case OutcomeMalformed:
		r.Skipped.Malformed++
		r.EventsSkipped++
	case OutcomeOutsideWindow:
		r.Skipped.OutsideWindow++
		r.EventsSkipped++
	}
}

// Stage names the part of a run that failed.
type Stage string

const (
	StageState    Stage = "state"
	StageFetch    Stage = "fetch"
	StagePersist  Stage = "persist"
	StageFinalize Stage = "finalize"
)

// RunError reports a run that did not complete. The stored watermark is
// left at Watermark.
type RunError struct {
	Stream      string
	Stage       Stage
	WindowStart time.Time
	Watermark   *time.Time
	Partial     Result
	Err         error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync %s failed during %s: %v", e.Stream, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Details is the public shape of the failure for API responses.
func (e *RunError) Details() map[string]any {
	details := map[string]any{
		"stream":       e.Stream,
		"stage":        e.Stage,
		"window_start": e.WindowStart,
		"watermark":    e.Watermark,
		"completed":    false,
	}
	return details
}
