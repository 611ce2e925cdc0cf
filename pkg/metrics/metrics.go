// Package metrics exposes pipeline and provider metrics through a
// Prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "docqa"

// DefaultBuckets are the latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the collectors used by the pipeline.
type Metrics struct {
	reg *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	stageItems     *prometheus.CounterVec
	serviceCalls   *prometheus.CounterVec
	serviceLatency *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

// New creates a registry with Go and process collectors plus the pipeline metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   DefaultBuckets,
		}, []string{"stage", "outcome"}),
		stageItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Items produced by pipeline stages.",
		}, []string{"stage"}),
		serviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_calls_total",
			Help:      "Calls to remote inference services.",
		}, []string{"service", "outcome"}),
		serviceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_call_duration_seconds",
			Help:      "Latency of remote inference service calls.",
			Buckets:   DefaultBuckets,
		}, []string{"service"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_retries_total",
			Help:      "Retried remote service calls.",
		}, []string{"service"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
	}
	reg.MustRegister(m.stageDuration, m.stageItems, m.serviceCalls, m.serviceLatency, m.retries, m.breakerState)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// ObserveStage records a finished stage.
func (m *Metrics) ObserveStage(stage string, items int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, outcome(err)).Observe(d.Seconds())
	if items > 0 {
		m.stageItems.WithLabelValues(stage).Add(float64(items))
	}
}

// ObserveCall records one remote service call.
func (m *Metrics) ObserveCall(service string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.serviceCalls.WithLabelValues(service, outcome(err)).Inc()
	m.serviceLatency.WithLabelValues(service).Observe(d.Seconds())
}

// IncRetry counts a retried call.
func (m *Metrics) IncRetry(service string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(service).Inc()
}

// SetBreakerState records the breaker state of service.
func (m *Metrics) SetBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(float64(state))
}
