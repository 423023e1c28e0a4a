package buttondown

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

const breakerName = "buttondown-api"

// newBreaker trips after consecutive server-side failures. Client errors other
// than 429 count as successes; they say nothing about provider health.
func newBreaker(logg *logger.Logger, m *metrics.SyncMetrics, failures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker[*Page] {
	if failures == 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	m.SetBreakerState(stateValue(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[*Page](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			var decodeErr *DecodeError
			return errors.As(err, &decodeErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.SetBreakerState(stateValue(to))
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state transition")
		},
	})
}

func stateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
