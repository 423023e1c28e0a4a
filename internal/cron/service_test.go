package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(success, failure),
		Lock:     NewLocalLocks().Lock("scheduler"),
	})
	require.NoError(t, err)

	err = service.runCycle(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.Contains(t, err.Error(), "fail: boom")
	assert.Equal(t, 1, success.runs)
	assert.Equal(t, 1, failure.runs)
}

func TestServiceRunCycleSkipsWhenLocked(t *testing.T) {
	locks := NewLocalLocks()
	holder := locks.Lock("scheduler")
	ok, err := holder.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	job := &testJob{name: "sync"}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     locks.Lock("scheduler"),
		Metrics:  metrics.NewJobMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, service.runCycle(context.Background()))
	assert.Equal(t, 0, job.runs)
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "sync"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     NewLocalLocks().Lock("scheduler"),
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = service.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, job.runs, "first cycle runs immediately")
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: NewLocalLocks().Lock("x")})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)
}

type fakeRunner struct {
	err   error
	calls int
	last  string
}

func (f *fakeRunner) RunSync(_ context.Context, stream string, _ *time.Time) (syncer.Result, error) {
	f.calls++
	f.last = stream
	if f.err != nil {
		return syncer.Result{}, f.err
	}
	return syncer.Result{Stream: stream, EventsCreated: 2}, nil
}

func (f *fakeRunner) State(context.Context, string) (syncer.State, error) { return syncer.State{}, nil }

func (f *fakeRunner) DefaultStream() string { return "buttondown_events" }

func TestSyncJobUsesDefaultStream(t *testing.T) {
	runner := &fakeRunner{}
	job, err := NewSyncJob(runner, "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "buttondown_events", runner.last)
	assert.Equal(t, "buttondown-sync", job.Name())
}

func TestSyncJobTreatsConflictAsSkip(t *testing.T) {
	runner := &fakeRunner{err: pkgerrors.New(pkgerrors.CodeConflict, "sync already running")}
	job, err := NewSyncJob(runner, "buttondown_events", nil, metrics.NewJobMetrics(nil))
	require.NoError(t, err)
	assert.NoError(t, job.Run(context.Background()))

	runner.err = pkgerrors.New(pkgerrors.CodeUpstream, "provider returned 500")
	assert.Error(t, job.Run(context.Background()))
}
