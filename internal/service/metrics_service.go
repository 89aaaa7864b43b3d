package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/seatwatch/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for the ops API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	cycles             prometheus.Counter
	cycleDuration      prometheus.Histogram
	cyclesSkipped      prometheus.Counter
	checked            prometheus.Counter
	notificationsSent  prometheus.Counter
	fetchFailures      prometheus.Counter
	evaluationFailures prometheus.Counter
	deliveryFailures   prometheus.Counter
	messages           *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	cycleCount           uint64
	checkedCount         uint64
	notifiedCount        uint64
	fetchFailCount       uint64
	evalFailCount        uint64
	deliveryFailCount    uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_hit_ratio",
			Help: "Ratio of cache hits to total cache lookups",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_cycles_total",
			Help: "Check cycles completed",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seatwatch_cycle_duration_seconds",
			Help:    "Wall time of a check cycle",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_cycles_skipped_total",
			Help: "Ticks skipped because a cycle was still running",
		}),
		checked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_subscriptions_checked_total",
			Help: "Subscriptions evaluated and recorded",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_notifications_sent_total",
			Help: "Seat availability alerts dispatched",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_fetch_failures_total",
			Help: "Course group lookups that failed",
		}),
		evaluationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_evaluation_failures_total",
			Help: "Subscriptions whose course data could not be evaluated",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seatwatch_delivery_failures_total",
			Help: "Alerts that could not be delivered",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seatwatch_messages_total",
			Help: "Outbound messages by template and result",
		}, []string{"template", "result"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheWrite, m.cacheHitRatio, m.cacheHits, m.cacheMisses,
		m.dbQueryDuration, goroutines, m.cycles, m.cycleDuration, m.cyclesSkipped, m.checked, m.notificationsSent,
		m.fetchFailures, m.evaluationFailures, m.deliveryFailures, m.messages,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records store call timing under a short label.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveCycle folds a finished cycle into the counters.
func (m *MetricsService) ObserveCycle(summary models.CycleSummary) {
	if m == nil {
		return
	}
	if summary.Skipped {
		m.cyclesSkipped.Inc()
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(summary.Duration.Seconds())
	m.checked.Add(float64(summary.Checked))
	m.notificationsSent.Add(float64(summary.Notified))
	m.fetchFailures.Add(float64(summary.FetchFailures))
	m.evaluationFailures.Add(float64(summary.EvaluationFailures))
	m.deliveryFailures.Add(float64(summary.DeliveryFailures))

	atomic.AddUint64(&m.cycleCount, 1)
	atomic.AddUint64(&m.checkedCount, uint64(summary.Checked))
	atomic.AddUint64(&m.notifiedCount, uint64(summary.Notified))
	atomic.AddUint64(&m.fetchFailCount, uint64(summary.FetchFailures))
	atomic.AddUint64(&m.evalFailCount, uint64(summary.EvaluationFailures))
	atomic.AddUint64(&m.deliveryFailCount, uint64(summary.DeliveryFailures))
}

// ObserveMessage counts one outbound message attempt.
func (m *MetricsService) ObserveMessage(template string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.messages.WithLabelValues(template, result).Inc()
}

// Snapshot returns aggregated metrics suitable for the status endpoint.
func (m *MetricsService) Snapshot() models.MonitorMetrics {
	if m == nil {
		return models.MonitorMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.MonitorMetrics{
		Cycles:                   atomic.LoadUint64(&m.cycleCount),
		SubscriptionsChecked:     atomic.LoadUint64(&m.checkedCount),
		NotificationsSent:        atomic.LoadUint64(&m.notifiedCount),
		FetchFailures:            atomic.LoadUint64(&m.fetchFailCount),
		EvaluationFailures:       atomic.LoadUint64(&m.evalFailCount),
		DeliveryFailures:         atomic.LoadUint64(&m.deliveryFailCount),
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
