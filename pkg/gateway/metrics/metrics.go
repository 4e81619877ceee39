// Package metrics holds the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Turn metrics
	TurnsTotal          *prometheus.CounterVec
	InterruptsTotal     prometheus.Counter
	ClarificationsTotal prometheus.Counter

	// Photo metrics
	PhotoRequestsTotal prometheus.Counter
	PhotoFailuresTotal *prometheus.CounterVec

	// Transport metrics
	FramesTotal *prometheus.CounterVec
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on its own
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mentra"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Currently connected device sessions",
	})
	sessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total device sessions accepted",
	})
	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Device session duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	turnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Completed interaction turns",
	}, []string{"path"})
	interruptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interrupts_total",
		Help:      "Turns aborted by a wake phrase mid-processing",
	})
	clarificationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clarifications_total",
		Help:      "Turns escalated to a yes/no clarification question",
	})
	photoRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "photo_requests_total",
		Help:      "Photo captures requested from devices",
	})
	photoFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "photo_failures_total",
		Help:      "Photo captures that timed out or errored",
	}, []string{"reason"})
	framesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Live protocol frames received by type",
	}, []string{"type"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Gateway errors by kind",
	}, []string{"kind"})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		turnsTotal,
		interruptsTotal,
		clarificationsTotal,
		photoRequestsTotal,
		photoFailuresTotal,
		framesTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:            registry,
		SessionsActive:      sessionsActive,
		SessionsTotal:       sessionsTotal,
		SessionDuration:     sessionDuration,
		TurnsTotal:          turnsTotal,
		InterruptsTotal:     interruptsTotal,
		ClarificationsTotal: clarificationsTotal,
		PhotoRequestsTotal:  photoRequestsTotal,
		PhotoFailuresTotal:  photoFailuresTotal,
		FramesTotal:         framesTotal,
		ErrorsTotal:         errorsTotal,
	}
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// TurnCompleted, Interrupted, and ClarificationAsked implement the
// controller's observer hook.
func (m *Metrics) TurnCompleted(usedVision bool) {
	if m == nil {
		return
	}
	path := "text"
	if usedVision {
		path = "vision"
	}
	m.TurnsTotal.WithLabelValues(path).Inc()
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.InterruptsTotal.Inc()
}

func (m *Metrics) ClarificationAsked() {
	if m == nil {
		return
	}
	m.ClarificationsTotal.Inc()
}

func (m *Metrics) RecordPhotoRequest() {
	if m == nil {
		return
	}
	m.PhotoRequestsTotal.Inc()
}

func (m *Metrics) RecordPhotoFailure(reason string) {
	if m == nil {
		return
	}
	m.PhotoFailuresTotal.WithLabelValues(reason).Inc()
}
