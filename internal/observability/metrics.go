package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes recorded on the messages counter.
const (
	OutcomeHandled   = "handled"
	OutcomeUnhandled = "unhandled"
	OutcomeTooShort  = "too_short"
	OutcomePanic     = "panic"
)

// Metrics holds the message-host collectors.
type Metrics struct {
	// Messages counts received messages by opcode name and dispatch outcome.
	Messages *prometheus.CounterVec
	// Sent counts messages written to clients.
	Sent prometheus.Counter
	// Clients is the number of connected clients.
	Clients prometheus.Gauge
	// Dispatch observes handler latency by opcode name.
	Dispatch *prometheus.HistogramVec
	// ScriptErrors counts Lua handler failures.
	ScriptErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
//
// Precondition: reg must be non-nil and must not already hold these collectors.
// Postcondition: Returns Metrics whose collectors are registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "manaserv",
			Name:      "messages_received_total",
			Help:      "Messages received from clients by opcode and dispatch outcome.",
		}, []string{"opcode", "outcome"}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "manaserv",
			Name:      "messages_sent_total",
			Help:      "Messages sent to clients.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "manaserv",
			Name:      "connected_clients",
			Help:      "Currently connected clients.",
		}),
		Dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "manaserv",
			Name:      "dispatch_seconds",
			Help:      "Time spent in message handlers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"opcode"}),
		ScriptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "manaserv",
			Name:      "script_errors_total",
			Help:      "Lua handler calls that raised an error or exhausted their budget.",
		}),
	}
	reg.MustRegister(m.Messages, m.Sent, m.Clients, m.Dispatch, m.ScriptErrors)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler serves reg in the Prometheus exposition format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
