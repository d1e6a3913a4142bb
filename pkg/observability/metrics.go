package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the monedita_* Prometheus collectors
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Limit gate metrics
	LimitChecksTotal     *prometheus.CounterVec
	UsageIncrementsTotal *prometheus.CounterVec

	// Billing sweep metrics
	SweepItemsTotal    *prometheus.CounterVec
	SweepDuration      *prometheus.HistogramVec
	SweepLastRunTime   *prometheus.GaugeVec
	ChargeAttemptTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monedita_http_requests_total",
				Help: "HTTP requests by method, route template and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monedita_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monedita_webhook_events_total",
				Help: "Inbound WhatsApp events by kind",
			},
			[]string{"kind"},
		),

		LimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monedita_limit_checks_total",
				Help: "Limit gate decisions by usage type",
			},
			[]string{"usage_type", "decision"},
		),
		UsageIncrementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monedita_usage_increments_total",
				Help: "Recorded billable actions by usage type",
			},
			[]string{"usage_type"},
		),

		SweepItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monedita_sweep_items_total",
				Help: "Items handled by billing sweeps by outcome",
			},
			[]string{"job", "outcome"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monedita_sweep_duration_seconds",
				Help:    "Billing sweep duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"job"},
		),
		SweepLastRunTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monedita_sweep_last_run_timestamp_seconds",
				Help: "Unix time of the last completed sweep",
			},
			[]string{"job"},
		),
		ChargeAttemptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monedita_charge_attempts_total",
				Help: "Charge attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.LimitChecksTotal,
		m.UsageIncrementsTotal,
		m.SweepItemsTotal,
		m.SweepDuration,
		m.SweepLastRunTime,
		m.ChargeAttemptTotal,
	)

	return m
}

// RecordLimitCheck counts one limit gate decision
func (m *Metrics) RecordLimitCheck(usageType string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.LimitChecksTotal.WithLabelValues(usageType, decision).Inc()
}

// RecordUsage counts one recorded billable action
func (m *Metrics) RecordUsage(usageType string) {
	m.UsageIncrementsTotal.WithLabelValues(usageType).Inc()
}

// RecordWebhookEvent counts one inbound event
func (m *Metrics) RecordWebhookEvent(kind string) {
	m.WebhookEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveSweep records the outcome of one billing sweep
func (m *Metrics) ObserveSweep(job string, processed, succeeded, failed int, duration time.Duration) {
	m.SweepItemsTotal.WithLabelValues(job, "succeeded").Add(float64(succeeded))
	m.SweepItemsTotal.WithLabelValues(job, "failed").Add(float64(failed))
	m.SweepDuration.WithLabelValues(job).Observe(duration.Seconds())
	m.SweepLastRunTime.WithLabelValues(job).SetToCurrentTime()
}

// RecordCharge counts one charge attempt; kind is "renewal" or "retry"
func (m *Metrics) RecordCharge(kind string, success bool) {
	outcome := "declined"
	if success {
		outcome = "succeeded"
	}
	m.ChargeAttemptTotal.WithLabelValues(kind, outcome).Inc()
}

type statusSniffer struct {
	http.ResponseWriter
	code int
}

func (s *statusSniffer) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled by
// route template so phone numbers in paths do not create new series.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sniff := &statusSniffer{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sniff, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sniff.code)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus text format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
