package controllers

import (
	"net/http"

	"github.com/angelmondragon/engagement-tracker/api/responses"
	"github.com/angelmondragon/engagement-tracker/api/validators"
	"github.com/angelmondragon/engagement-tracker/internal/dashboard"
	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/pagination"
	"github.com/angelmondragon/engagement-tracker/pkg/types"
	"github.com/go-chi/chi/v5"
)

type topSubscribersQuery struct {
	Metric string `json:"metric" validate:"oneof=opens clicks total"`
}

func DashboardStats(svc dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}
		start, err := validators.ParseQueryTime(r, "start_date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		end, err := validators.ParseQueryTime(r, "end_date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stats, err := svc.Stats(r.Context(), start, end)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func DashboardTopSubscribers(svc dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", dashboard.DefaultTopLimit, 1, dashboard.MaxTopLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := topSubscribersQuery{Metric: validators.ParseQueryString(r, "metric", string(enums.MetricOpens), 16)}
		if err := validators.ValidateStruct(&query); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.TopSubscribers(r.Context(), limit, enums.EngagementMetric(query.Metric))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

func DashboardTrends(svc dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}
		days, err := validators.ParseQueryInt(r, "days", dashboard.DefaultDays, 1, dashboard.MaxDays)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		points, err := svc.Trends(r.Context(), days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, points)
	}
}

// SubscriberEvents returns one page of a subscriber's feed, newest first.
func SubscriberEvents(svc dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}
		subscriberID := validators.SanitizeString(chi.URLParam(r, "subscriberId"), 128)
		if subscriberID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "subscriber id is required"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := validators.ParseQueryString(r, "cursor", "", 256)

		page, err := svc.SubscriberEvents(r.Context(), subscriberID, cursor, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, page.Items, types.PageMeta{NextCursor: page.NextCursor, Limit: limit})
	}
}
