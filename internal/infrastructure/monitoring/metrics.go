package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/qrgate/internal/domain/service"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	IssuanceRequests *prometheus.CounterVec
	IssuanceLatency  *prometheus.HistogramVec
	RateLimitHits    *prometheus.CounterVec
	KeyRotations     *prometheus.CounterVec
	SweepResults     *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	BatchJobs        *prometheus.CounterVec
	BatchGyms        prometheus.Counter
	BatchDuration    prometheus.Histogram
	CacheAccess      *prometheus.CounterVec

	HTTPActiveRequests *prometheus.GaugeVec
	HTTPDuration       *prometheus.HistogramVec
	HTTPErrors         *prometheus.CounterVec
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		IssuanceRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_issuance_requests_total",
				Help: "Total number of QR token issuance requests.",
			},
			[]string{"purpose", "result"},
		),
		IssuanceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qrgate_issuance_latency_seconds",
				Help:    "Latency of QR token issuance requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"purpose"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_rate_limit_hits_total",
				Help: "Total number of rate limit rejections.",
			},
			[]string{"dimension"},
		),
		KeyRotations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_key_rotations_total",
				Help: "Total number of signing key rotations.",
			},
			[]string{"purpose", "trigger"},
		),
		SweepResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_rotation_sweep_configs_total",
				Help: "Configurations visited by rotation sweeps, by outcome.",
			},
			[]string{"outcome"},
		),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrgate_rotation_sweep_duration_seconds",
			Help:    "Duration of rotation sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		BatchJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_batch_jobs_total",
				Help: "Batch asset jobs that reached a terminal state.",
			},
			[]string{"status"},
		),
		BatchGyms: f.NewCounter(prometheus.CounterOpts{
			Name: "qrgate_batch_gyms_processed_total",
			Help: "Gyms processed by batch asset jobs.",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrgate_batch_job_duration_seconds",
			Help:    "Wall time of batch asset jobs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		CacheAccess: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_cache_access_total",
				Help: "Cache lookups by cache and result.",
			},
			[]string{"cache", "result"},
		),
		HTTPActiveRequests: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qrgate_http_active_requests",
				Help: "In-flight HTTP requests.",
			},
			[]string{"path", "method"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qrgate_http_request_duration_seconds",
				Help:    "HTTP request duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		HTTPErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrgate_http_request_errors_total",
				Help: "HTTP responses with status >= 400.",
			},
			[]string{"path", "method", "status"},
		),
	}
}

// RecordIssuance records metrics for an issuance request.
func (m *Metrics) RecordIssuance(purpose, result string, duration time.Duration) {
	m.IssuanceRequests.WithLabelValues(purpose, result).Inc()
	m.IssuanceLatency.WithLabelValues(purpose).Observe(duration.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(dimension string) {
	m.RateLimitHits.WithLabelValues(dimension).Inc()
}

func (m *Metrics) RecordRotation(purpose, trigger string) {
	m.KeyRotations.WithLabelValues(purpose, trigger).Inc()
}

func (m *Metrics) RecordSweep(rotated, skipped, failed int, duration time.Duration) {
	m.SweepResults.WithLabelValues("rotated").Add(float64(rotated))
	m.SweepResults.WithLabelValues("skipped").Add(float64(skipped))
	m.SweepResults.WithLabelValues("failed").Add(float64(failed))
	m.SweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordBatchJob(status string, gyms int, duration time.Duration) {
	m.BatchJobs.WithLabelValues(status).Inc()
	m.BatchGyms.Add(float64(gyms))
	m.BatchDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheAccess(cacheType string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheAccess.WithLabelValues(cacheType, result).Inc()
}

func (m *Metrics) ActiveRequestsInc(path, method string) {
	m.HTTPActiveRequests.WithLabelValues(path, method).Inc()
}

func (m *Metrics) ActiveRequestsDec(path, method string) {
	m.HTTPActiveRequests.WithLabelValues(path, method).Dec()
}

// ObserveRequestDuration records the latency of a finished request and counts
// it as an error when status >= 400.
func (m *Metrics) ObserveRequestDuration(path, method string, status int, seconds float64) {
	code := strconv.Itoa(status)
	m.HTTPDuration.WithLabelValues(path, method, code).Observe(seconds)
	if status >= 400 {
		m.HTTPErrors.WithLabelValues(path, method, code).Inc()
	}
}
