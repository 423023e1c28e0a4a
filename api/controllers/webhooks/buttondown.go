package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/engagement-tracker/api/responses"
	buttondownwebhook "github.com/angelmondragon/engagement-tracker/internal/webhooks/buttondown"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
)

const maxWebhookBody = 1 << 20

// ButtondownWebhookService is the intake surface the handlers need.
type ButtondownWebhookService interface {
	HandleDelivery(ctx context.Context, payload []byte) (buttondownwebhook.Receipt, error)
	Health(ctx context.Context) (buttondownwebhook.Health, error)
}

// ButtondownWebhook stores one pushed delivery. When a secret is configured
// every delivery must carry a valid signature.
func ButtondownWebhook(svc ButtondownWebhookService, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if secret != "" && !buttondownwebhook.VerifySignature(payload, secret, r.Header.Get(buttondownwebhook.SignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		receipt, err := svc.HandleDelivery(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, receipt)
	}
}

// ButtondownWebhookProbe answers the provider's URL verification request.
func ButtondownWebhookProbe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"status":  "ok",
			"message": "Buttondown webhook endpoint is ready",
		})
	}
}

// WebhookHealth reports how many events arrived in the last day.
func WebhookHealth(svc ButtondownWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		health, err := svc.Health(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, health)
	}
}
