package controllers

import (
	"net/http"

	"github.com/angelmondragon/engagement-tracker/api/responses"
	"github.com/angelmondragon/engagement-tracker/api/validators"
	"github.com/angelmondragon/engagement-tracker/internal/syncer"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
)

const maxStreamLen = 64

// SyncTrigger runs one synchronization and returns its counters. An optional
// since query parameter overrides the stored watermark for this run.
func SyncTrigger(runner syncer.Runner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stream := validators.ParseQueryString(r, "stream", runner.DefaultStream(), maxStreamLen)

		result, err := runner.RunSync(r.Context(), stream, since)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SyncState reports the stored watermark and bookkeeping for a stream.
func SyncState(runner syncer.Runner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		stream := validators.ParseQueryString(r, "stream", runner.DefaultStream(), maxStreamLen)
		state, err := runner.State(r.Context(), stream)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}
