package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the rewards
// core. All methods are nil-receiver safe so wiring metrics stays optional.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	transfers       *prometheus.CounterVec
	transferCredits prometheus.Counter
	redemptions     *prometheus.CounterVec
	resets          *prometheus.CounterVec
	quotaRejections prometheus.Counter
	txRetries       prometheus.Counter
	unitDuration    *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers the core collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recognition_transfers_total",
		Help: "Total recognition transfer attempts by outcome",
	}, []string{"outcome"})

	transferCredits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recognition_credits_transferred_total",
		Help: "Total credits moved by successful transfers",
	})

	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redemptions_total",
		Help: "Total redemption lifecycle events by action and outcome",
	}, []string{"action", "outcome"})

	resets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monthly_resets_total",
		Help: "Total per-student monthly reset executions by outcome",
	}, []string{"outcome"})

	quotaRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quota_rejections_total",
		Help: "Total sends rejected by the monthly quota",
	})

	txRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serializable_tx_retries_total",
		Help: "Total serialization-failure retries across units of work",
	})

	unitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unit_of_work_duration_seconds",
		Help:    "Duration of atomic units of work",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balance_cache_hits_total",
		Help: "Total balance cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balance_cache_misses_total",
		Help: "Total balance cache misses",
	})

	registry.MustRegister(transfers, transferCredits, redemptions, resets, quotaRejections, txRetries, unitDuration, cacheHits, cacheMisses)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		transfers:       transfers,
		transferCredits: transferCredits,
		redemptions:     redemptions,
		resets:          resets,
		quotaRejections: quotaRejections,
		txRetries:       txRetries,
		unitDuration:    unitDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus scrape handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveTransfer records one transfer attempt and its moved credits.
func (m *MetricsService) ObserveTransfer(outcome string, credits int) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
	if outcome == "success" && credits > 0 {
		m.transferCredits.Add(float64(credits))
	}
}

// ObserveRedemption records one redemption lifecycle event.
func (m *MetricsService) ObserveRedemption(action, outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(action, outcome).Inc()
}

// ObserveReset records one per-student reset execution.
func (m *MetricsService) ObserveReset(outcome string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(outcome).Inc()
}

// ObserveQuotaRejection counts a send rejected by the quota.
func (m *MetricsService) ObserveQuotaRejection() {
	if m == nil {
		return
	}
	m.quotaRejections.Inc()
}

// ObserveTxRetry counts one retried unit of work.
func (m *MetricsService) ObserveTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// ObserveUnitDuration records how long an atomic unit of work took.
func (m *MetricsService) ObserveUnitDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.unitDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveCacheLookup counts a balance cache hit or miss.
func (m *MetricsService) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
