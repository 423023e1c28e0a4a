package events

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/enums"
	"github.com/goccy/go-json"
)

// ErrMalformed marks a record that cannot be ingested. It is a per-record
// outcome, never a reason to abort a run.
var ErrMalformed = errors.New("malformed event record")

// MalformedError names the field that made a record unusable.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed event record: " + e.Reason }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func malformed(format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// Kind tags which payload shape a Record carries.
type Kind string

const (
	KindAPIEvent Kind = "api_event"
	KindWebhook  Kind = "webhook"
	KindUnknown  Kind = "unknown"
)

// Record is a provider payload classified by shape. Exactly one of the
// typed fields is set, matching Kind.
type Record struct {
	Kind    Kind
	API     *APIEvent
	Webhook *WebhookDelivery
	Raw     []byte
}

// APIEvent is one element of the events listing. Auxiliary fields keep
// their raw JSON and are read best-effort.
type APIEvent struct {
	ID           string
	EventType    string
	CreationDate string
	SubscriberID string
	Subscriber   json.RawMessage
	EmailID      string
	Email        json.RawMessage
	Metadata     map[string]any
}

// WebhookDelivery is a push notification body. It carries no provider event
// id or timestamp, so the caller supplies both.
type WebhookDelivery struct {
	EventType  string
	Data       map[string]any
	DeliveryID string
	ReceivedAt time.Time
}

// SubscriberPayload is the expanded subscriber object.
type SubscriberPayload struct {
	ID           string
	EmailAddress string
	Email        string
	FirstName    string
	LastName     string
	Source       string
	CreationDate string
}

// Profile is the subscriber data an event carries. Nil fields are unknown
// and never overwrite stored values.
type Profile struct {
	Email            *string
	FirstName        *string
	LastName         *string
	Source           *string
	SubscriptionDate *time.Time
}

// Normalized is the canonical shape handed to the repositories.
type Normalized struct {
	EventID              string
	Type                 enums.EventType
	RawType              string
	SubscriberExternalID string
	Profile              Profile
	StatusChange         *enums.SubscriberStatus
	EmailID              *string
	LinkURL              *string
	CreatedAt            time.Time
	Raw                  []byte
}

// ClassifyAPIRecord decodes one listing element. Any JSON object is an API
// event, even without an event_type; anything else is KindUnknown.
func ClassifyAPIRecord(raw []byte) Record {
	rec := Record{Kind: KindUnknown, Raw: raw}
	fields, ok := decodeObject(raw)
	if !ok {
		return rec
	}
	rec.Kind = KindAPIEvent
	rec.API = &APIEvent{
		ID:           rawString(fields["id"]),
		EventType:    rawString(fields["event_type"]),
		CreationDate: rawString(fields["creation_date"]),
		SubscriberID: rawString(fields["subscriber_id"]),
		Subscriber:   fields["subscriber"],
		EmailID:      rawString(fields["email_id"]),
		Email:        fields["email"],
		Metadata:     rawMap(fields["metadata"]),
	}
	return rec
}

// ClassifyWebhook decodes a webhook body. deliveryID and receivedAt stand in
// for the event id and creation time the body lacks. Deliveries must name
// their event_type.
func ClassifyWebhook(raw []byte, deliveryID string, receivedAt time.Time) Record {
	rec := Record{Kind: KindUnknown, Raw: raw}
	fields, ok := decodeObject(raw)
	if !ok {
		return rec
	}
	eventType := rawString(fields["event_type"])
	if eventType == "" {
		return rec
	}
	rec.Kind = KindWebhook
	rec.Webhook = &WebhookDelivery{
		EventType:  eventType,
		Data:       rawMap(fields["data"]),
		DeliveryID: deliveryID,
		ReceivedAt: receivedAt,
	}
	return rec
}

// Normalize maps a classified record onto the canonical event. Missing event
// id, subscriber reference, or timestamp yields a MalformedError.
func Normalize(rec Record) (Normalized, error) {
	switch rec.Kind {
	case KindAPIEvent:
		if rec.API == nil {
			return Normalized{}, malformed("empty api event")
		}
		return normalizeAPIEvent(*rec.API, rec.Raw)
	case KindWebhook:
		if rec.Webhook == nil {
			return Normalized{}, malformed("empty webhook delivery")
		}
		return normalizeWebhook(*rec.Webhook, rec.Raw)
	default:
		return Normalized{}, malformed("unrecognized payload shape")
	}
}

func normalizeAPIEvent(ev APIEvent, raw []byte) (Normalized, error) {
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		return Normalized{}, malformed("missing event id")
	}

	createdAt, err := ParseTimestamp(ev.CreationDate)
	if err != nil {
		return Normalized{}, malformed("event %s: %v", id, err)
	}

	sub := decodeSubscriber(ev.Subscriber)
	externalID := firstNonEmpty(ev.SubscriberID, sub.ID)
	if externalID == "" {
		return Normalized{}, malformed("event %s: missing subscriber reference", id)
	}

	profile := Profile{
		Email:     optional(firstNonEmpty(sub.EmailAddress, sub.Email, metadataString(ev.Metadata, "email"))),
		FirstName: optional(sub.FirstName),
		LastName:  optional(sub.LastName),
		Source:    optional(sub.Source),
	}
	if at, err := ParseTimestamp(sub.CreationDate); err == nil {
		profile.SubscriptionDate = &at
	}

	out := Normalized{
		EventID:              id,
		Type:                 enums.EventTypeFromProvider(ev.EventType),
		RawType:              strings.TrimSpace(ev.EventType),
		SubscriberExternalID: externalID,
		Profile:              profile,
		EmailID:              optional(firstNonEmpty(ev.EmailID, decodeEmailID(ev.Email))),
		LinkURL:              optional(firstNonEmpty(metadataString(ev.Metadata, "url"), metadataString(ev.Metadata, "link"))),
		CreatedAt:            createdAt,
		Raw:                  compactJSON(raw),
	}
	if status, ok := enums.StatusFromProvider(ev.EventType); ok {
		out.StatusChange = &status
	}
	return out, nil
}

func normalizeWebhook(wh WebhookDelivery, raw []byte) (Normalized, error) {
	id := strings.TrimSpace(wh.DeliveryID)
	if id == "" {
		return Normalized{}, malformed("missing delivery id")
	}

	createdAt := wh.ReceivedAt.UTC()
	if at, err := ParseTimestamp(metadataString(wh.Data, "creation_date")); err == nil {
		createdAt = at
	}
	if createdAt.IsZero() {
		return Normalized{}, malformed("webhook %s: missing timestamp", id)
	}

	var sub SubscriberPayload
	externalID := metadataString(wh.Data, "subscriber")
	if externalID == "" {
		if obj, ok := wh.Data["subscriber"].(map[string]any); ok {
			sub = subscriberFromMap(obj)
			externalID = sub.ID
		}
	}
	if externalID == "" {
		return Normalized{}, malformed("webhook %s: missing subscriber reference", id)
	}

	// data.email is an email id on most deliveries and an address on a few.
	emailField := metadataString(wh.Data, "email")
	var emailID, address string
	if strings.Contains(emailField, "@") {
		address = emailField
	} else {
		emailID = emailField
	}

	out := Normalized{
		EventID:              id,
		Type:                 enums.EventTypeFromProvider(wh.EventType),
		RawType:              strings.TrimSpace(wh.EventType),
		SubscriberExternalID: externalID,
		Profile: Profile{
			Email:     optional(firstNonEmpty(sub.EmailAddress, sub.Email, address)),
			FirstName: optional(sub.FirstName),
			LastName:  optional(sub.LastName),
			Source:    optional(sub.Source),
		},
		EmailID:   optional(emailID),
		LinkURL:   optional(firstNonEmpty(metadataString(wh.Data, "url"), metadataString(wh.Data, "link"))),
		CreatedAt: createdAt,
		Raw:       compactJSON(raw),
	}
	if status, ok := enums.StatusFromProvider(wh.EventType); ok {
		out.StatusChange = &status
	}
	return out, nil
}

// decodeSubscriber accepts either the expanded object or a bare id string.
func decodeSubscriber(raw json.RawMessage) SubscriberPayload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return SubscriberPayload{}
	}
	if trimmed[0] != '{' {
		return SubscriberPayload{ID: rawString(trimmed)}
	}
	return subscriberFromMap(rawMap(trimmed))
}

func decodeEmailID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] != '{' {
		return rawString(trimmed)
	}
	fields, _ := decodeObject(trimmed)
	return rawString(fields["id"])
}

func subscriberFromMap(m map[string]any) SubscriberPayload {
	return SubscriberPayload{
		ID:           metadataString(m, "id"),
		EmailAddress: metadataString(m, "email_address"),
		Email:        metadataString(m, "email"),
		FirstName:    metadataString(m, "first_name"),
		LastName:     metadataString(m, "last_name"),
		Source:       metadataString(m, "source"),
		CreationDate: metadataString(m, "creation_date"),
	}
}

// decodeObject splits a JSON object into its raw members. It fails only when
// raw is not an object.
func decodeObject(raw []byte) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// rawString reads a JSON string or number as text. Other JSON types yield "".
func rawString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(trimmed, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if _, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return string(trimmed)
	}
	return ""
}

// rawMap reads a JSON object, returning nil for any other JSON type.
func rawMap(raw json.RawMessage) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(trimmed, &m) != nil {
		return nil
	}
	return m
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp reads provider timestamps, assuming UTC when no offset is given.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	return buf.Bytes()
}
