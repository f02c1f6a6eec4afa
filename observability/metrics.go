package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks engine operations exposed through lendingd.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	seized       *prometheus.CounterVec
	prices       *prometheus.GaugeVec
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Lending returns the lazily-initialised lending metrics.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Rejected engine operations segmented by operation and error code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lending",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Successful liquidations segmented by collateral asset.",
			}, []string{"asset"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "engine",
				Name:      "collateral_seized_units_total",
				Help:      "Raw collateral units seized by liquidations, segmented by asset.",
			}, []string{"asset"}),
			prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lending",
				Subsystem: "oracle",
				Name:      "price_usd",
				Help:      "Last normalised USD price served per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.errors,
			lendingRegistry.latency,
			lendingRegistry.liquidations,
			lendingRegistry.seized,
			lendingRegistry.prices,
		)
	})
	return lendingRegistry
}

// Observe records an engine operation. code is empty on success and a stable
// error code otherwise.
func (m *LendingMetrics) Observe(operation string, duration time.Duration, code string) {
	if m == nil {
		return
	}
	op := labelOr(operation, "unknown")
	outcome := "success"
	if code != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, code).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLiquidation counts a liquidation and the collateral it seized.
func (m *LendingMetrics) RecordLiquidation(asset string, seized float64) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.liquidations.WithLabelValues(label).Inc()
	if seized > 0 {
		m.seized.WithLabelValues(label).Add(seized)
	}
}

// RecordPrice sets the last price served for asset.
func (m *LendingMetrics) RecordPrice(asset string, price float64) {
	if m == nil {
		return
	}
	m.prices.WithLabelValues(labelAsset(asset)).Set(price)
}

// HTTP returns the lazily-initialised HTTP request metrics.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lending",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a completed HTTP request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelOr(route, "unmatched")
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a throttled request. Reasons should be stable strings
// such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(reason, "unspecified")).Inc()
}

func labelOr(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func labelAsset(asset string) string {
	return strings.ToLower(labelOr(asset, "unknown"))
}
