package enums

import (
	"fmt"
	"strings"
)

// SubscriberStatus tracks whether mail to a subscriber still lands.
type SubscriberStatus string

const (
	SubscriberStatusActive       SubscriberStatus = "active"
	SubscriberStatusUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberStatusBounced      SubscriberStatus = "bounced"
)

var validSubscriberStatuses = []SubscriberStatus{
	SubscriberStatusActive,
	SubscriberStatusUnsubscribed,
	SubscriberStatusBounced,
}

// IsValid checks whether the given status matches the canonical enum.
func (s SubscriberStatus) IsValid() bool {
	for _, candidate := range validSubscriberStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriberStatus converts raw strings into SubscriberStatus.
func ParseSubscriberStatus(value string) (SubscriberStatus, error) {
	for _, candidate := range validSubscriberStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscriber status %q", value)
}

var bouncedSuffixes = []string{"bounced", "complained", "rejected"}

// StatusFromProvider infers a subscriber status from a provider event name.
// The boolean is false when the event says nothing about deliverability.
func StatusFromProvider(raw string) (SubscriberStatus, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case value == "":
		return "", false
	case strings.HasSuffix(value, string(EventTypeUnsubscribed)):
		return SubscriberStatusUnsubscribed, true
	case strings.HasSuffix(value, string(EventTypeConfirmed)):
		return SubscriberStatusActive, true
	}
	for _, suffix := range bouncedSuffixes {
		if strings.HasSuffix(value, suffix) {
			return SubscriberStatusBounced, true
		}
	}
	return "", false
}
