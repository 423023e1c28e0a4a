package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics covers ingestion runs and the upstream provider calls they make.
type SyncMetrics struct {
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	records     *prometheus.CounterVec
	watermark   *prometheus.GaugeVec
	requests    *prometheus.CounterVec
	retries     prometheus.Counter
	breaker     prometheus.Gauge
}

// NewSyncMetrics registers the ingestion metrics on reg. A nil registerer
// yields a no-op recorder.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Synchronization runs by stream and outcome.",
		}, []string{"stream", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Wall time of synchronization runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"stream"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Upstream records processed by outcome.",
		}, []string{"stream", "outcome"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_watermark_timestamp_seconds",
			Help: "Unix time of the stored watermark per stream.",
		}, []string{"stream"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buttondown_requests_total",
			Help: "Requests sent to the Buttondown API by status class.",
		}, []string{"status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buttondown_request_retries_total",
			Help: "Retried Buttondown page fetches.",
		}),
		breaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buttondown_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}
	reg.MustRegister(m.runs, m.runDuration, m.records, m.watermark, m.requests, m.retries, m.breaker)
	return m
}

func (m *SyncMetrics) ObserveRun(stream, outcome string, duration time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(stream), normalizeLabel(outcome)).Inc()
	m.runDuration.WithLabelValues(normalizeLabel(stream)).Observe(duration.Seconds())
}

func (m *SyncMetrics) AddRecords(stream, outcome string, n int) {
	if m == nil || m.records == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(normalizeLabel(stream), normalizeLabel(outcome)).Add(float64(n))
}

func (m *SyncMetrics) SetWatermark(stream string, at time.Time) {
	if m == nil || m.watermark == nil || at.IsZero() {
		return
	}
	m.watermark.WithLabelValues(normalizeLabel(stream)).Set(float64(at.Unix()))
}

func (m *SyncMetrics) IncRequest(status string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *SyncMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

func (m *SyncMetrics) SetBreakerState(state int) {
	if m == nil || m.breaker == nil {
		return
	}
	m.breaker.Set(float64(state))
}
