package buttondown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/config"
	"github.com/angelmondragon/engagement-tracker/pkg/logger"
	"github.com/angelmondragon/engagement-tracker/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	eventsPath       = "events"
	maxErrorBodySize = 64 * 1024
	maxPageBodySize  = 32 << 20
)

// EventSource pages through provider events created after a point in time.
// An empty cursor starts a new listing; a non-empty cursor is the URL
// returned as Next by the previous page.
type EventSource interface {
	FetchEvents(ctx context.Context, since time.Time, cursor string) (*Page, error)
}

// Client talks to the Buttondown REST API.
type Client struct {
	http        *http.Client
	baseURL     *url.URL
	apiKey      string
	scheme      string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*Page]
	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
	metrics     *metrics.SyncMetrics
	logg        *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logg = l }
}

// NewClient builds a client from configuration. The API key is required.
func NewClient(cfg config.ButtondownConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s is required", config.EnvButtondownAPIKey)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid buttondown base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	scheme := strings.TrimSpace(cfg.AuthScheme)
	if scheme == "" {
		scheme = "Token"
	}

	c := &Client{
		http:        &http.Client{Timeout: timeout},
		baseURL:     base,
		apiKey:      cfg.APIKey,
		scheme:      scheme,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		retryMax:    cfg.RetryMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 1
	}
	c.breaker = newBreaker(c.logg, c.metrics, 5, time.Minute)
	return c, nil
}

// FetchEvents returns one page of events, retrying transient failures with
// exponential backoff up to the configured number of attempts.
func (c *Client) FetchEvents(ctx context.Context, since time.Time, cursor string) (*Page, error) {
	pageURL, err := c.pageURL(since, cursor)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	if c.retryBase > 0 {
		policy.InitialInterval = c.retryBase
	}
	if c.retryMax > 0 {
		policy.MaxInterval = c.retryMax
	}
	policy.MaxElapsedTime = 0

	var page *Page
	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		p, err := c.breaker.Execute(func() (*Page, error) {
			return c.get(ctx, pageURL)
		})
		if err == nil {
			page = p
			return nil
		}
		return c.classify(ctx, err)
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.IncRetry()
		if c.logg == nil {
			return
		}
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})
		c.logg.Warn(logCtx, "retrying buttondown page fetch")
	}

	retries := uint64(c.maxAttempts - 1)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return page, nil
}

// classify marks errors that no retry can fix as permanent, and honours a
// Retry-After hint before handing control back to the backoff policy.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return backoff.Permanent(err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		if apiErr.RetryAfter > 0 {
			wait := apiErr.RetryAfter
			if c.retryMax > 0 && wait > c.retryMax {
				wait = c.retryMax
			}
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-timer.C:
			}
		}
	}
	return err
}

func (c *Client) pageURL(since time.Time, cursor string) (string, error) {
	if cursor != "" {
		next, err := c.baseURL.Parse(cursor)
		if err != nil {
			return "", fmt.Errorf("invalid next page url %q: %w", cursor, err)
		}
		if next.Host != c.baseURL.Host {
			return "", fmt.Errorf("next page url host %q does not match %q", next.Host, c.baseURL.Host)
		}
		return next.String(), nil
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: eventsPath})
	q := url.Values{}
	q.Set("ordering", "creation_date")
	q.Add("expand", "subscriber")
	q.Add("expand", "email")
	if !since.IsZero() {
		q.Set("creation_date__start", since.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", c.scheme+" "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncRequest("error")
		return nil, fmt.Errorf("requesting %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	c.metrics.IncRequest(statusClass(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var page Page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBodySize)).Decode(&page); err != nil {
		return nil, &DecodeError{URL: req.URL.Path, Err: err}
	}
	return &page, nil
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return strings.TrimSpace(string(body))
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
