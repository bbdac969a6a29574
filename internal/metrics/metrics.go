// Package metrics provides Prometheus metrics for SupportPipe.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	MessagesTotal   *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	HandleDuration  *prometheus.HistogramVec
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	TimerFiresTotal *prometheus.CounterVec
	AIRequestsTotal *prometheus.CounterVec
	TicketsTotal    *prometheus.CounterVec
	OutboundTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_messages_total",
				Help: "Inbound messages by the router stage that handled them.",
			},
			[]string{"stage"},
		),
		DroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_messages_dropped_total",
				Help: "Inbound messages dropped before handling, by reason.",
			},
			[]string{"reason"},
		),
		HandleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supportpipe_handle_duration_seconds",
				Help:    "Time spent handling a message, by stage.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "supportpipe_sessions_active",
				Help: "Number of live sessions in the registry.",
			},
		),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_sessions_ended_total",
				Help: "Sessions ended, by reason.",
			},
			[]string{"reason"},
		),
		TimerFiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_timer_fires_total",
				Help: "Inactivity timer fires by stage and flow.",
			},
			[]string{"stage", "flow"},
		),
		AIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_ai_requests_total",
				Help: "AI completions by result.",
			},
			[]string{"result"},
		),
		TicketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_tickets_total",
				Help: "Support tickets by origin and result.",
			},
			[]string{"origin", "result"},
		),
		OutboundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_outbound_messages_total",
				Help: "Outbound message chunks by result.",
			},
			[]string{"result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportpipe_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.MessagesTotal)
	reg.MustRegister(m.DroppedTotal)
	reg.MustRegister(m.HandleDuration)
	reg.MustRegister(m.SessionsActive)
	reg.MustRegister(m.SessionsEnded)
	reg.MustRegister(m.TimerFiresTotal)
	reg.MustRegister(m.AIRequestsTotal)
	reg.MustRegister(m.TicketsTotal)
	reg.MustRegister(m.OutboundTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMessage counts a message handled by stage and observes its duration.
func (m *Metrics) RecordMessage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(stage).Inc()
	m.HandleDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordDrop counts a message dropped before handling.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(reason).Inc()
}

// SetSessions sets the live session count.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordSessionEnd counts an ended session.
func (m *Metrics) RecordSessionEnd(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordTimerFire counts an inactivity timer fire.
func (m *Metrics) RecordTimerFire(stage, flow string) {
	if m == nil {
		return
	}
	m.TimerFiresTotal.WithLabelValues(stage, flow).Inc()
}

// RecordAI counts an AI completion outcome.
func (m *Metrics) RecordAI(result string) {
	if m == nil {
		return
	}
	m.AIRequestsTotal.WithLabelValues(result).Inc()
}

// RecordTicket counts a ticket creation outcome.
func (m *Metrics) RecordTicket(origin, result string) {
	if m == nil {
		return
	}
	m.TicketsTotal.WithLabelValues(origin, result).Inc()
}

// RecordOutbound counts a sent or failed message chunk.
func (m *Metrics) RecordOutbound(result string) {
	if m == nil {
		return
	}
	m.OutboundTotal.WithLabelValues(result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
