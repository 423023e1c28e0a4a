package cron

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/metrics"
)

const syncJobName = "buttondown-sync"

// SyncJob runs an incremental sync for one stream on each tick.
type SyncJob struct {
	runner  syncer.Runner
	stream  string
	logg    *logger.Logger
	metrics *metrics.JobMetrics
}

// NewSyncJob builds the scheduled sync. An empty stream uses the runner's default.
func NewSyncJob(runner syncer.Runner, stream string, logg *logger.Logger, m *metrics.JobMetrics) (*SyncJob, error) {
	if runner == nil {
		return nil, errors.New("sync runner required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = runner.DefaultStream()
	}
	return &SyncJob{runner: runner, stream: stream, logg: logg, metrics: m}, nil
}

func (j *SyncJob) Name() string { return syncJobName }

// Run treats a run already in progress elsewhere as a skipped tick.
func (j *SyncJob) Run(ctx context.Context) error {
	res, err := j.runner.RunSync(ctx, j.stream, nil)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeConflict {
			j.logg.Info(ctx, "sync already running; skipping tick")
			j.metrics.IncLockSkipped(j.Name())
			return nil
		}
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"events_created": res.EventsCreated,
		"events_skipped": res.EventsSkipped,
	}), "scheduled sync finished")
	return nil
}
