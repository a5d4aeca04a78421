// Package metrics exposes Prometheus metrics for the bridge. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge collectors.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal        *prometheus.CounterVec
	eventsSkipped      *prometheus.CounterVec
	reconnectsTotal    *prometheus.CounterVec
	discoveryDuration  prometheus.Histogram
	discoveredPlayers  prometheus.Gauge
	activeSubs         prometheus.Gauge
	pollInterval       prometheus.Gauge
	connected          prometheus.Gauge
	commandsTotal      *prometheus.CounterVec
	artFetchesTotal    *prometheus.CounterVec
	registeredEndpoint prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonos_bridge_events_total",
			Help: "Events drained from device subscriptions",
		},
		[]string{"service"},
	)
	m.eventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonos_bridge_events_skipped_total",
			Help: "Events skipped because processing them failed",
		},
		[]string{"service"},
	)
	m.reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonos_bridge_reconnects_total",
			Help: "Times the bridge was marked for reconnection",
		},
		[]string{"reason"},
	)
	m.discoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sonos_bridge_discovery_duration_seconds",
		Help:    "Duration of player discovery",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
	})
	m.discoveredPlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sonos_bridge_players",
		Help: "Players found by the last successful discovery",
	})
	m.activeSubs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sonos_bridge_subscriptions",
		Help: "Live event subscriptions",
	})
	m.pollInterval = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sonos_bridge_poll_interval_seconds",
		Help: "Current poll loop interval",
	})
	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sonos_bridge_connected",
		Help: "1 when every subscription is live",
	})
	m.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonos_bridge_commands_total",
			Help: "Commands executed by action and result",
		},
		[]string{"action", "result"},
	)
	m.artFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sonos_bridge_art_requests_total",
			Help: "Album art requests by outcome",
		},
		[]string{"outcome"},
	)
	m.registeredEndpoint = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sonos_bridge_endpoints",
		Help: "Registered directory endpoints",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsTotal,
		m.eventsSkipped,
		m.reconnectsTotal,
		m.discoveryDuration,
		m.discoveredPlayers,
		m.activeSubs,
		m.pollInterval,
		m.connected,
		m.commandsTotal,
		m.artFetchesTotal,
		m.registeredEndpoint,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventProcessed(service string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(service).Inc()
}

func (m *Metrics) EventSkipped(service string) {
	if m == nil {
		return
	}
	m.eventsSkipped.WithLabelValues(service).Inc()
}

func (m *Metrics) Reconnect(reason string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Discovery(seconds float64, players int) {
	if m == nil {
		return
	}
	m.discoveryDuration.Observe(seconds)
	m.discoveredPlayers.Set(float64(players))
}

// Connection records the poll loop state.
func (m *Metrics) Connection(connected bool, subscriptions int, intervalSeconds float64) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
	m.activeSubs.Set(float64(subscriptions))
	m.pollInterval.Set(intervalSeconds)
}

func (m *Metrics) Command(action, result string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ArtRequest(outcome string) {
	if m == nil {
		return
	}
	m.artFetchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Endpoints(count int) {
	if m == nil {
		return
	}
	m.registeredEndpoint.Set(float64(count))
}
