package events

import (
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAPIEventWithExpandedSubscriber(t *testing.T) {
	raw := []byte(`{
		"id": "evt-1",
		"event_type": "subscriber.clicked",
		"creation_date": "2026-03-01T10:00:00.123Z",
		"subscriber_id": "sub-A",
		"subscriber": {"id": "sub-A", "email_address": "a@example.com", "first_name": "Ada", "source": "import", "creation_date": "2025-12-01T00:00:00Z"},
		"email": {"id": "em-9"},
		"metadata": {"url": "https://example.com/post"}
	}`)

	ev, err := Normalize(ClassifyAPIRecord(raw))
	require.NoError(t, err)

	assert.Equal(t, "evt-1", ev.EventID)
	assert.Equal(t, enums.EventTypeClicked, ev.Type)
	assert.Equal(t, "subscriber.clicked", ev.RawType)
	assert.Equal(t, "sub-A", ev.SubscriberExternalID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 123000000, time.UTC), ev.CreatedAt)
	require.NotNil(t, ev.Profile.Email)
	assert.Equal(t, "a@example.com", *ev.Profile.Email)
	require.NotNil(t, ev.Profile.FirstName)
	assert.Equal(t, "Ada", *ev.Profile.FirstName)
	assert.Nil(t, ev.Profile.LastName)
	require.NotNil(t, ev.Profile.SubscriptionDate)
	require.NotNil(t, ev.EmailID)
	assert.Equal(t, "em-9", *ev.EmailID)
	require.NotNil(t, ev.LinkURL)
	assert.Equal(t, "https://example.com/post", *ev.LinkURL)
	assert.Nil(t, ev.StatusChange)
	assert.NotEmpty(t, ev.Raw)
}

func TestNormalizeMapsProviderSpellingsBySuffix(t *testing.T) {
	cases := map[string]enums.EventType{
		"subscriber.opened":             enums.EventTypeOpened,
		"subscription_confirmed_opened": enums.EventTypeOpened,
		"email_clicked":                 enums.EventTypeClicked,
		"subscriber.confirmed":          enums.EventTypeConfirmed,
		"subscriber.delivered":          enums.EventTypeDelivered,
		"subscriber.unsubscribed":       enums.EventTypeUnsubscribed,
		"email.sent":                    enums.EventTypeSent,
		"subscriber.bounced":            enums.EventTypeUnknown,
		"subscriber.tagged":             enums.EventTypeUnknown,
	}
	for rawType, want := range cases {
		raw := []byte(`{"id":"e","event_type":"` + rawType + `","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s"}`)
		ev, err := Normalize(ClassifyAPIRecord(raw))
		require.NoError(t, err, rawType)
		assert.Equal(t, want, ev.Type, rawType)
		assert.Equal(t, rawType, ev.RawType)
	}
}

func TestNormalizeInfersStatusChanges(t *testing.T) {
	cases := map[string]enums.SubscriberStatus{
		"subscriber.unsubscribed": enums.SubscriberStatusUnsubscribed,
		"subscriber.confirmed":    enums.SubscriberStatusActive,
		"subscriber.bounced":      enums.SubscriberStatusBounced,
		"subscriber.complained":   enums.SubscriberStatusBounced,
	}
	for rawType, want := range cases {
		raw := []byte(`{"id":"e","event_type":"` + rawType + `","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s"}`)
		ev, err := Normalize(ClassifyAPIRecord(raw))
		require.NoError(t, err)
		require.NotNil(t, ev.StatusChange, rawType)
		assert.Equal(t, want, *ev.StatusChange, rawType)
	}

	for _, rawType := range []string{"subscriber.opened", "subscriber.clicked", "subscriber.delivered", "email.sent"} {
		raw := []byte(`{"id":"e","event_type":"` + rawType + `","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s"}`)
		ev, err := Normalize(ClassifyAPIRecord(raw))
		require.NoError(t, err)
		assert.Nil(t, ev.StatusChange, "engagement events leave status alone: %s", rawType)
	}
}

func TestNormalizeAcceptsBareSubscriberID(t *testing.T) {
	raw := []byte(`{"id":"e","event_type":"opened","creation_date":"2026-03-01T10:00:00","subscriber":"sub-B","email":"em-1","metadata":{"link":"https://x.test"}}`)
	ev, err := Normalize(ClassifyAPIRecord(raw))
	require.NoError(t, err)
	assert.Equal(t, "sub-B", ev.SubscriberExternalID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ev.CreatedAt)
	require.NotNil(t, ev.EmailID)
	assert.Equal(t, "em-1", *ev.EmailID)
	require.NotNil(t, ev.LinkURL)
	assert.Equal(t, "https://x.test", *ev.LinkURL)
	assert.Nil(t, ev.Profile.Email)
}

func TestNormalizeRejectsMalformedRecords(t *testing.T) {
	cases := map[string]string{
		"missing id":         `{"event_type":"opened","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s"}`,
		"missing subscriber": `{"id":"e","event_type":"opened","creation_date":"2026-03-01T10:00:00Z"}`,
		"missing timestamp":  `{"id":"e","event_type":"opened","subscriber_id":"s"}`,
		"bad timestamp":      `{"id":"e","event_type":"opened","creation_date":"yesterday","subscriber_id":"s"}`,
		"not an object":      `[1,2,3]`,
	}
	for name, payload := range cases {
		_, err := Normalize(ClassifyAPIRecord([]byte(payload)))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrMalformed), name)
	}
}

func TestClassifyAPIRecordFallsBackToUnknown(t *testing.T) {
	for _, payload := range []string{`not json`, `null`, `"evt-1"`, `[{"id":"e"}]`} {
		rec := ClassifyAPIRecord([]byte(payload))
		assert.Equal(t, KindUnknown, rec.Kind, payload)
		assert.Nil(t, rec.API, payload)
	}
}

func TestNormalizeKeepsRecordWithoutEventTypeAsUnknown(t *testing.T) {
	raw := []byte(`{"id":"e","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s"}`)

	rec := ClassifyAPIRecord(raw)
	require.Equal(t, KindAPIEvent, rec.Kind)

	ev, err := Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, enums.EventTypeUnknown, ev.Type)
	assert.Equal(t, "", ev.RawType)
	assert.Equal(t, "s", ev.SubscriberExternalID)
	assert.Nil(t, ev.StatusChange)
}

func TestNormalizeToleratesOddAuxiliaryFields(t *testing.T) {
	cases := map[string]string{
		"metadata array":      `{"id":"e","event_type":"subscriber.opened","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s","metadata":[]}`,
		"numeric email id":    `{"id":"e","event_type":"subscriber.opened","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s","email_id":42}`,
		"subscriber number":   `{"id":"e","event_type":"subscriber.opened","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s","subscriber":7}`,
		"email bool":          `{"id":"e","event_type":"subscriber.opened","creation_date":"2026-03-01T10:00:00Z","subscriber_id":"s","email":true}`,
		"nested odd metadata": `{"id":"e","event_type":"subscriber.opened","creation_date":"2026-03-01T10:00:00Z","subscriber":{"id":"s","metadata":[1],"first_name":5}}`,
	}
	for name, payload := range cases {
		ev, err := Normalize(ClassifyAPIRecord([]byte(payload)))
		require.NoError(t, err, name)
		assert.Equal(t, enums.EventTypeOpened, ev.Type, name)
		assert.Equal(t, "s", ev.SubscriberExternalID, name)
		assert.Nil(t, ev.LinkURL, name)
	}

	ev, err := Normalize(ClassifyAPIRecord([]byte(cases["numeric email id"])))
	require.NoError(t, err)
	require.NotNil(t, ev.EmailID)
	assert.Equal(t, "42", *ev.EmailID)
}

func TestNormalizeWebhookDelivery(t *testing.T) {
	received := time.Date(2026, 3, 2, 8, 30, 0, 0, time.FixedZone("X", 3600))
	body := []byte(`{"event_type":"subscriber.unsubscribed","data":{"subscriber":"sub-C","email":"em-4"}}`)

	ev, err := Normalize(ClassifyWebhook(body, "hash-1", received))
	require.NoError(t, err)
	assert.Equal(t, "hash-1", ev.EventID)
	assert.Equal(t, enums.EventTypeUnsubscribed, ev.Type)
	assert.Equal(t, "sub-C", ev.SubscriberExternalID)
	assert.Equal(t, received.UTC(), ev.CreatedAt)
	require.NotNil(t, ev.EmailID)
	assert.Equal(t, "em-4", *ev.EmailID)
	require.NotNil(t, ev.StatusChange)
	assert.Equal(t, enums.SubscriberStatusUnsubscribed, *ev.StatusChange)
}

func TestNormalizeWebhookEmailAddressGoesToProfile(t *testing.T) {
	body := []byte(`{"event_type":"subscriber.confirmed","data":{"subscriber":"sub-D","email":"d@example.com"}}`)
	ev, err := Normalize(ClassifyWebhook(body, "hash-2", time.Now()))
	require.NoError(t, err)
	require.NotNil(t, ev.Profile.Email)
	assert.Equal(t, "d@example.com", *ev.Profile.Email)
	assert.Nil(t, ev.EmailID)
}

func TestNormalizeWebhookWithoutSubscriberIsMalformed(t *testing.T) {
	body := []byte(`{"event_type":"subscriber.opened","data":{}}`)
	_, err := Normalize(ClassifyWebhook(body, "hash-3", time.Now()))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseTimestampAssumesUTC(t *testing.T) {
	got, err := ParseTimestamp("2026-03-01T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())

	_, err = ParseTimestamp("")
	assert.Error(t, err)
}
