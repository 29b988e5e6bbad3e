package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetConnections(1, 2)
	m.PoolAction("repair", true)
	m.PoolAction("repair", false)
	m.TxSkipped("oversized")
	m.FrameReceived(3)

	if got := testutil.ToFloat64(m.activeConnections); got != 1 {
		t.Fatalf("active mismatch: %v", got)
	}
	if got := testutil.ToFloat64(m.connectionSlots); got != 2 {
		t.Fatalf("slots mismatch: %v", got)
	}
	if got := testutil.ToFloat64(m.poolActions.WithLabelValues("repair", "failed")); got != 1 {
		t.Fatalf("failed repairs mismatch: %v", got)
	}
	if got := testutil.ToFloat64(m.framesReceived.WithLabelValues("3")); got != 1 {
		t.Fatalf("frames mismatch: %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SetConnections(1, 1)
	m.Disconnect()
	m.PoolAction("grow", true)
	m.FrameReceived(0)
	m.FrameSkipped()
	m.TxDecoded()
	m.TxSkipped("unknown")
	m.Duplicate()
}

func TestConnectionSlotsIsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetConnections(1, 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "sequencer_feed_connections_total" {
			t.Fatalf("gauge exported with counter suffix")
		}
		if mf.GetName() == "sequencer_feed_connection_slots" {
			found = true
			if mf.GetType() != dto.MetricType_GAUGE {
				t.Fatalf("expected gauge, got %v", mf.GetType())
			}
		}
	}
	if !found {
		t.Fatalf("sequencer_feed_connection_slots not registered")
	}
}
