// Package metrics exposes Prometheus collectors for the bridge coordinator
// and the stream server.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "castbridge"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	evaluations     *prometheus.CounterVec
	commands        *prometheus.CounterVec
	refreshFailures prometheus.Counter
	switchBacks     prometheus.Counter
	blockedEvents   prometheus.Counter
	bridges         prometheus.Gauge

	streamClients *prometheus.GaugeVec
	streamBytes   *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.init()

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evaluations,
		m.commands,
		m.refreshFailures,
		m.switchBacks,
		m.blockedEvents,
		m.bridges,
		m.streamClients,
		m.streamBytes,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) init() {
	m.evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Bridge evaluations by resulting action",
		},
		[]string{"action"},
	)
	m.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_commands_total",
			Help:      "Renderer commands by operation and result",
		},
		[]string{"op", "result"}, // result: success, error
	)
	m.refreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_refresh_failures_total",
		Help:      "Audio backend refreshes that exhausted their attempts",
	})
	m.switchBacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "switch_backs_total",
		Help:      "Times streams were moved back to the fallback sink",
	})
	m.blockedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocked_events_total",
		Help:      "Topology events dropped because their sink was blocked",
	})
	m.bridges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bridges",
		Help:      "Live bridges",
	})
	m.streamClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected stream clients by sink",
		},
		[]string{"sink"},
	)
	m.streamBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Encoded bytes sent to renderers by sink",
		},
		[]string{"sink"},
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EvaluationDone(action string) {
	m.evaluations.WithLabelValues(action).Inc()
}

func (m *Metrics) CommandDone(op string, ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.commands.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RefreshFailed() { m.refreshFailures.Inc() }

func (m *Metrics) SwitchedBack() { m.switchBacks.Inc() }

func (m *Metrics) EventBlocked() { m.blockedEvents.Inc() }

func (m *Metrics) BridgesLive(n int) { m.bridges.Set(float64(n)) }

// StreamOpened counts a renderer connecting to sink's stream.
func (m *Metrics) StreamOpened(sink string) {
	m.streamClients.WithLabelValues(sink).Inc()
}

// StreamClosed records the end of a stream and the bytes it carried.
func (m *Metrics) StreamClosed(sink string, bytes int64) {
	m.streamClients.WithLabelValues(sink).Dec()
	if bytes > 0 {
		m.streamBytes.WithLabelValues(sink).Add(float64(bytes))
	}
}
