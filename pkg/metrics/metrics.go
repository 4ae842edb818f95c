// Package metrics exposes keyturner client activity as Prometheus metrics.
//
// All methods are safe on a nil *Metrics, so components take an optional
// *Metrics and record unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyturner"

// Metrics holds the client's collectors.
type Metrics struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	pairings        *prometheus.CounterVec
	connects        *prometheus.CounterVec
	droppedFrames   *prometheus.CounterVec
	events          *prometheus.CounterVec
	paired          prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed commands by opcode and result.",
		}, []string{"command", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from submission to terminal result.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"command"}),
		pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Pairing attempts by result.",
		}, []string{"result"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Link connect attempts by outcome.",
		}, []string{"outcome"}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound notifications discarded before reaching the engine.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events raised to the application.",
		}, []string{"event"}),
		paired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paired",
			Help:      "1 while the client holds credentials.",
		}),
	}
	m.registry.MustRegister(
		m.commands,
		m.commandDuration,
		m.pairings,
		m.connects,
		m.droppedFrames,
		m.events,
		m.paired,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one execution.
func (m *Metrics) ObserveCommand(command, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObservePairing records one pairing attempt.
func (m *Metrics) ObservePairing(result string) {
	if m == nil {
		return
	}
	m.pairings.WithLabelValues(result).Inc()
}

// ObserveConnect records one connect attempt.
func (m *Metrics) ObserveConnect(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.connects.WithLabelValues(outcome).Inc()
}

// DroppedFrame counts a discarded notification.
func (m *Metrics) DroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.droppedFrames.WithLabelValues(reason).Inc()
}

// Event counts an event raised to the application.
func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

// SetPaired sets the paired gauge.
func (m *Metrics) SetPaired(paired bool) {
	if m == nil {
		return
	}
	if paired {
		m.paired.Set(1)
	} else {
		m.paired.Set(0)
	}
}
