package enums

import "fmt"

// EngagementMetric selects the counter used to rank subscribers.
type EngagementMetric string

const (
	MetricOpens  EngagementMetric = "opens"
	MetricClicks EngagementMetric = "clicks"
	MetricTotal  EngagementMetric = "total"
)

var validEngagementMetrics = []EngagementMetric{MetricOpens, MetricClicks, MetricTotal}

func (m EngagementMetric) IsValid() bool {
	for _, candidate := range validEngagementMetrics {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseEngagementMetric defaults to total for an empty value.
func ParseEngagementMetric(value string) (EngagementMetric, error) {
	if value == "" {
		return MetricTotal, nil
	}
	for _, candidate := range validEngagementMetrics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid engagement metric %q", value)
}
