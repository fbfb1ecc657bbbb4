package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pulsechat/pulse/internal/core/domain"
)

// Metrics exports signaling counters for Prometheus scraping.
type Metrics struct {
	callsInitiated  prometheus.Counter
	callsRejected   *prometheus.CounterVec
	callsEnded      *prometheus.CounterVec
	activeCalls     prometheus.Gauge
	relayedPayloads prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callsInitiated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "signaling",
			Name:      "calls_initiated_total",
			Help:      "Call sessions successfully created.",
		}),
		callsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "signaling",
			Name:      "calls_rejected_total",
			Help:      "Call initiations rejected before a session was created.",
		}, []string{"code"}),
		callsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "signaling",
			Name:      "calls_ended_total",
			Help:      "Call sessions reaching a terminal status.",
		}, []string{"status"}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse",
			Subsystem: "signaling",
			Name:      "active_calls",
			Help:      "Live call sessions currently held in the registry.",
		}),
		relayedPayloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "signaling",
			Name:      "relayed_payloads_total",
			Help:      "Negotiation and control payloads relayed between peers.",
		}),
	}
}

func (m *Metrics) callStarted() {
	if m == nil {
		return
	}
	m.callsInitiated.Inc()
	m.activeCalls.Inc()
}

func (m *Metrics) callRejected(code string) {
	if m == nil {
		return
	}
	m.callsRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) callFinished(status domain.CallStatus) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(string(status)).Inc()
	m.activeCalls.Dec()
}

func (m *Metrics) payloadRelayed() {
	if m == nil {
		return
	}
	m.relayedPayloads.Inc()
}
