// Package metrics exposes call, capture and surface telemetry for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calldesk"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	callsStarted     prometheus.Counter
	callsEnded       *prometheus.CounterVec
	talkSeconds      prometheus.Histogram
	deviceRegistered prometheus.Gauge
	bridgeErrors     *prometheus.CounterVec
	captureAttempts  *prometheus.CounterVec
	captureResults   *prometheus.CounterVec
	surfaces         prometheus.Gauge
	framesDropped    prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Outbound calls handed to the voice device.",
		}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Finished calls by outcome.",
		}, []string{"outcome"}),
		talkSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_talk_seconds",
			Help:      "Talk time of answered calls.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		deviceRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_registered",
			Help:      "1 while the voice device is registered.",
		}),
		bridgeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_errors_total",
			Help:      "Telephony bridge errors by stage.",
		}, []string{"stage"}),
		captureAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_capture_attempts_total",
			Help:      "Remote stream lookups by whether a live stream was found.",
		}, []string{"found"}),
		captureResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_captures_total",
			Help:      "Completed stream captures by result.",
		}, []string{"result"}),
		surfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "surfaces_connected",
			Help:      "Connected UI surface websockets.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surface_messages_dropped_total",
			Help:      "Messages dropped from full surface outboxes.",
		}),
	}

	m.registry.MustRegister(
		m.callsStarted,
		m.callsEnded,
		m.talkSeconds,
		m.deviceRegistered,
		m.bridgeErrors,
		m.captureAttempts,
		m.captureResults,
		m.surfaces,
		m.framesDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallStart counts a dial.
func (m *Metrics) RecordCallStart() {
	m.callsStarted.Inc()
}

// RecordCallEnd counts a finished call and observes its talk time when it
// was answered.
func (m *Metrics) RecordCallEnd(outcome string, talk time.Duration) {
	m.callsEnded.WithLabelValues(outcome).Inc()
	if talk > 0 {
		m.talkSeconds.Observe(talk.Seconds())
	}
}

// RecordDeviceRegistered tracks device registration.
func (m *Metrics) RecordDeviceRegistered(registered bool) {
	if registered {
		m.deviceRegistered.Set(1)
		return
	}
	m.deviceRegistered.Set(0)
}

// RecordBridgeError counts a bridge failure at stage.
func (m *Metrics) RecordBridgeError(stage string) {
	m.bridgeErrors.WithLabelValues(stage).Inc()
}

// RecordCaptureAttempt counts one stream lookup.
func (m *Metrics) RecordCaptureAttempt(found bool) {
	label := "false"
	if found {
		label = "true"
	}
	m.captureAttempts.WithLabelValues(label).Inc()
}

// RecordCaptureResult counts a finished capture.
func (m *Metrics) RecordCaptureResult(result string) {
	m.captureResults.WithLabelValues(result).Inc()
}

// SurfaceConnected adjusts the connected surface gauge.
func (m *Metrics) SurfaceConnected(delta int) {
	m.surfaces.Add(float64(delta))
}

// SurfaceMessageDropped counts a message dropped for a slow surface.
func (m *Metrics) SurfaceMessageDropped() {
	m.framesDropped.Inc()
}
