package controllers

import (
	"net/http"

	"github.com/angelmondragon/engagement-tracker/api/responses"
	"github.com/angelmondragon/engagement-tracker/api/validators"
	"github.com/angelmondragon/engagement-tracker/internal/auth"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
)

// AuthLogin wires the dashboard login endpoint into the HTTP layer.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dashboard login is not configured"))
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
