package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"indicator-service/internal/types"
)

const namespace = "indicator"

// Metrics holds the service collectors on a private registry so that tests
// can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	ButtonActivations *prometheus.CounterVec
	CommandsSent      *prometheus.CounterVec
	CommandsReceived  *prometheus.CounterVec
	UnknownBytes      prometheus.Counter
	LinkDrops         prometheus.Counter
	LinkState         *prometheus.GaugeVec
	SurfaceRequests   *prometheus.CounterVec
	Mode              prometheus.Gauge
	RotationIndex     prometheus.Gauge
	WebClients        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Accepted device mode transitions by target mode and source",
		}, []string{"to", "source"}),
		ButtonActivations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "button_activations_total",
			Help:      "Button edges by debounce outcome",
		}, []string{"outcome"}),
		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the peer link",
		}, []string{"command"}),
		CommandsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_received_total",
			Help:      "Commands decoded from the peer link",
		}, []string{"command"}),
		UnknownBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_bytes_total",
			Help:      "Bytes from the peer link that did not decode to a command",
		}),
		LinkDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_dropped_bytes_total",
			Help:      "Outbound bytes dropped because the link was down or its queue full",
		}),
		LinkState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "1 for the current peer link supervisor state",
		}, []string{"state"}),
		SurfaceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surface_requests_total",
			Help:      "External surface requests by kind and transport",
		}, []string{"kind", "transport"}),
		Mode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stopped",
			Help:      "1 while the device is stopped",
		}),
		RotationIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotation_index",
			Help:      "Current indicator rotation index",
		}),
		WebClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket observers",
		}),
	}
}

// Observe records the projected snapshot.
func (m *Metrics) Observe(s types.Snapshot) {
	if s.Stopped() {
		m.Mode.Set(1)
	} else {
		m.Mode.Set(0)
	}
	m.RotationIndex.Set(float64(s.RotationIndex))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
