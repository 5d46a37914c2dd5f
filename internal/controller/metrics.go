// ABOUTME: Prometheus metrics for the controller's registry and report traffic.
// ABOUTME: Registered against a caller-supplied registry so tests stay isolated.

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the controller's instrumentation.
type Metrics struct {
	ConnectedAgents prometheus.Gauge
	ReportsReceived prometheus.Counter
	ProtocolErrors  prometheus.Counter
	Dispatches      *prometheus.CounterVec
}

// NewMetrics builds and registers the controller metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectedAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zomp_connected_agents",
			Help: "Number of currently connected agents.",
		}),
		ReportsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "zomp_reports_received_total",
			Help: "Total report bodies received from agents.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "zomp_protocol_errors_total",
			Help: "Total unparseable messages received from agents.",
		}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zomp_dispatches_total",
			Help: "Total commands dispatched to agents.",
		}, []string{"command"}),
	}
}
