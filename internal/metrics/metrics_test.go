package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordEscalation("auto")
	m.RecordEscalation("auto")
	m.RecordClaim(true)
	m.RecordClaim(false)
	m.RecordClaim(false)
	m.RecordResolution(true)
	m.RecordCapacityCorrections(3)
	m.RecordCapacityCorrections(-1)
	m.ObserveOperation("escalate", time.Now())

	if got := counterValue(t, m.Escalations.WithLabelValues("auto")); got != 2 {
		t.Errorf("escalations{auto} = %v, want 2", got)
	}
	if got := counterValue(t, m.ClaimAttempts.WithLabelValues("lost")); got != 2 {
		t.Errorf("claim_attempts{lost} = %v, want 2", got)
	}
	if got := counterValue(t, m.Resolutions.WithLabelValues("already_resolved")); got != 1 {
		t.Errorf("resolutions{already_resolved} = %v, want 1", got)
	}
	if got := counterValue(t, m.CapacityCorrected); got != 3 {
		t.Errorf("capacity_corrections = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordEscalation("manual")
	m.RecordAssignment("auto")
	m.RecordClaim(true)
	m.RecordResolution(false)
	m.ObserveOperation("resolve", time.Now())
	m.RecordNotifyFailure("redis")
	m.RecordNotifyDropped()
	m.RecordWebSocketConnect()
	m.RecordWebSocketDisconnect()
	m.RecordCapacityCorrections(1)
}
