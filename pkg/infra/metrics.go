package infra

import (
	"net/http"

	"github.com/GwanWingYan/vaultsign/pkg/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultsign"

// Metrics counts relay and execution activity. It is handed to the relay
// client and the lifecycle as their recorder.
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts prometheus.Counter
	reconnects      prometheus.Counter
	events          *prometheus.CounterVec
	executions      *prometheus.CounterVec
	inflight        prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connect_attempts_total",
			Help:      "Relay dial attempts, successful or not.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "reconnects_total",
			Help:      "Reconnects started after the relay dropped.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Envelopes delivered to subscribers by event type.",
		}, []string{"type"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "executions_total",
			Help:      "Settled transaction sends by outcome.",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "inflight",
			Help:      "Transaction sends not settled yet.",
		}),
	}
	m.registry.MustRegister(
		m.connectAttempts,
		m.reconnects,
		m.events,
		m.executions,
		m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ConnectAttempt() { m.connectAttempts.Inc() }
func (m *Metrics) Reconnect() { m.reconnects.Inc() }
func (m *Metrics) Event(t relay.EventType) { m.events.WithLabelValues(string(t)).Inc() }
func (m *Metrics) Execution(outcome string) { m.executions.WithLabelValues(outcome).Inc() }
func (m *Metrics) InFlight(n int) { m.inflight.Set(float64(n)) }
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
