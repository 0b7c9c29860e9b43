package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterWithLabel(f *dto.MetricFamily, label, value string) float64 {
	for _, metric := range f.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestCallMetrics(t *testing.T) {
	m := New()
	m.RecordCallStart()
	m.RecordCallStart()
	m.RecordCallEnd("completed", 42*time.Second)
	m.RecordCallEnd("missed", 0)
	m.RecordBridgeError("connect")
	m.RecordDeviceRegistered(true)

	fams := gather(t, m)
	if got := fams["calldesk_calls_started_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("calls started = %v", got)
	}
	ended := fams["calldesk_calls_ended_total"]
	if counterWithLabel(ended, "outcome", "completed") != 1 || counterWithLabel(ended, "outcome", "missed") != 1 {
		t.Errorf("calls ended = %v", ended)
	}
	if n := fams["calldesk_call_talk_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("talk samples = %d, want 1 (missed calls have no talk time)", n)
	}
	if got := fams["calldesk_device_registered"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("device registered = %v", got)
	}
	if counterWithLabel(fams["calldesk_bridge_errors_total"], "stage", "connect") != 1 {
		t.Error("bridge error not counted")
	}
}

func TestCaptureAndSurfaceMetrics(t *testing.T) {
	m := New()
	m.RecordCaptureAttempt(false)
	m.RecordCaptureAttempt(true)
	m.RecordCaptureResult("found")
	m.SurfaceConnected(1)
	m.SurfaceConnected(1)
	m.SurfaceConnected(-1)
	m.SurfaceMessageDropped()

	fams := gather(t, m)
	attempts := fams["calldesk_stream_capture_attempts_total"]
	if counterWithLabel(attempts, "found", "true") != 1 || counterWithLabel(attempts, "found", "false") != 1 {
		t.Errorf("capture attempts = %v", attempts)
	}
	if counterWithLabel(fams["calldesk_stream_captures_total"], "result", "found") != 1 {
		t.Error("capture result not counted")
	}
	if got := fams["calldesk_surfaces_connected"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("surfaces = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordCallStart()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "calldesk_calls_started_total 1") {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}
