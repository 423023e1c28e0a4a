package enums

import (
	"fmt"
	"strings"
)

// EventType is the canonical engagement category stored on events.
type EventType string

const (
	EventTypeOpened       EventType = "opened"
	EventTypeClicked      EventType = "clicked"
	EventTypeConfirmed    EventType = "confirmed"
	EventTypeDelivered    EventType = "delivered"
	EventTypeUnsubscribed EventType = "unsubscribed"
	EventTypeSent         EventType = "sent"
	EventTypeUnknown      EventType = "unknown"
)

var validEventTypes = []EventType{
	EventTypeOpened,
	EventTypeClicked,
	EventTypeConfirmed,
	EventTypeDelivered,
	EventTypeUnsubscribed,
	EventTypeSent,
	EventTypeUnknown,
}

// recognizedSuffixes excludes unknown; it has no provider spelling.
var recognizedSuffixes = validEventTypes[:len(validEventTypes)-1]

// IsValid checks whether the given type matches the canonical enum.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts a canonical string into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// EventTypeFromProvider maps a provider event name such as
// "subscriber.opened" or "email_clicked" onto the canonical type by suffix.
func EventTypeFromProvider(raw string) EventType {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return EventTypeUnknown
	}
	for _, candidate := range recognizedSuffixes {
		if strings.HasSuffix(value, string(candidate)) {
			return candidate
		}
	}
	return EventTypeUnknown
}
