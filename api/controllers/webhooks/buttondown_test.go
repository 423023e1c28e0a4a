package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	buttondownwebhook "github.com/angelmondragon/engagement-tracker/internal/webhooks/buttondown"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWebhookService struct {
	calls   int
	seen    map[string]bool
	err     error
	payload []byte
}

func (f *fakeWebhookService) HandleDelivery(_ context.Context, payload []byte) (buttondownwebhook.Receipt, error) {
	f.calls++
	f.payload = payload
	if f.err != nil {
		return buttondownwebhook.Receipt{}, f.err
	}
	id := buttondownwebhook.DeliveryID(payload)
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	status := buttondownwebhook.StatusProcessed
	if f.seen[id] {
		status = buttondownwebhook.StatusDuplicate
	}
	f.seen[id] = true
	return buttondownwebhook.Receipt{Status: status, EventID: id}, nil
}

func (f *fakeWebhookService) Health(context.Context) (buttondownwebhook.Health, error) {
	return buttondownwebhook.Health{Status: "healthy", EventsLast24h: 3}, nil
}

func post(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/buttondown", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(buttondownwebhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func receiptStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Data buttondownwebhook.Receipt `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return string(body.Data.Status)
}

func TestButtondownWebhookSignedAndIdempotent(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ButtondownWebhook(svc, "whsec", nil)
	body := []byte(`{"event_type":"subscriber.opened","data":{"subscriber":"sub-A"}}`)
	sig := buttondownwebhook.Sign(body, "whsec")

	rec := post(t, handler, body, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", receiptStatus(t, rec))

	rec = post(t, handler, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", receiptStatus(t, rec))
	assert.Equal(t, body, svc.payload)
}

func TestButtondownWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ButtondownWebhook(svc, "whsec", nil)
	body := []byte(`{"event_type":"subscriber.opened","data":{"subscriber":"sub-A"}}`)

	assert.Equal(t, http.StatusUnauthorized, post(t, handler, body, "sha256=00").Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, handler, body, "").Code)
	assert.Equal(t, 0, svc.calls)
}

func TestButtondownWebhookWithoutSecretSkipsVerification(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ButtondownWebhook(svc, "", nil)

	rec := post(t, handler, []byte(`{"event_type":"subscriber.clicked","data":{"subscriber":"sub-B"}}`), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)
}

func TestButtondownWebhookMapsServiceErrors(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook payload")}
	handler := ButtondownWebhook(svc, "", nil)

	rec := post(t, handler, []byte(`{}`), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = pkgerrors.New(pkgerrors.CodeInternal, "persist webhook event")
	rec = post(t, handler, []byte(`{}`), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestButtondownWebhookRejectsOversizedBody(t *testing.T) {
	svc := &fakeWebhookService{}
	handler := ButtondownWebhook(svc, "", nil)

	rec := post(t, handler, bytes.Repeat([]byte("a"), maxWebhookBody+1), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestWebhookProbeAndHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	ButtondownWebhookProbe().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/buttondown", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	WebhookHealth(&fakeWebhookService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events_last_24h":3`)
}
