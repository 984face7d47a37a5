package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scribehub/metergate/pkg/metergate"
)

// Metrics implements metergate.Metrics using Prometheus.
type Metrics struct {
	rateLimitChecksTotal   *prometheus.CounterVec
	rateLimitExceededTotal *prometheus.CounterVec
	quotaChecksTotal       *prometheus.CounterVec
	quotaExceededTotal     *prometheus.CounterVec
	usageWritesTotal       *prometheus.CounterVec
	storeOpsDuration       *prometheus.HistogramVec
	storeOpsErrors         *prometheus.CounterVec
	failOpenTotal          *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		rateLimitChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_checks_total",
			Help:      "Total number of rate limit window checks.",
		}, []string{"class", "allowed"}),

		rateLimitExceededTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_exceeded_total",
			Help:      "Total number of denied rate limit checks.",
		}, []string{"class"}),

		quotaChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Total number of monthly quota checks.",
		}, []string{"feature", "allowed"}),

		quotaExceededTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_exceeded_total",
			Help:      "Total number of denied quota checks.",
		}, []string{"feature"}),

		usageWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_writes_total",
			Help:      "Total number of usage increment attempts.",
		}, []string{"feature", "success"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of backing store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of backing store errors.",
		}, []string{"operation"}),

		failOpenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Total number of fail-open allowances during store outages.",
		}, []string{"component"}),
	}
}

func (m *Metrics) RecordRateLimitCheck(class metergate.LimitClass, allowed bool) {
	m.rateLimitChecksTotal.WithLabelValues(string(class), strconv.FormatBool(allowed)).Inc()
	if !allowed {
		m.rateLimitExceededTotal.WithLabelValues(string(class)).Inc()
	}
}

func (m *Metrics) RecordQuotaCheck(feature metergate.Feature, allowed bool) {
	m.quotaChecksTotal.WithLabelValues(string(feature), strconv.FormatBool(allowed)).Inc()
	if !allowed {
		m.quotaExceededTotal.WithLabelValues(string(feature)).Inc()
	}
}

func (m *Metrics) RecordUsageWrite(feature metergate.Feature, success bool) {
	m.usageWritesTotal.WithLabelValues(string(feature), strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordFailOpen(component string) {
	m.failOpenTotal.WithLabelValues(component).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
