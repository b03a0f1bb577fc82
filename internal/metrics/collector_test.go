package ironmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	ironmetrics "github.com/raytheonbbn/iron-bpf/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ironmetrics.NewCollector(reg)

	if c.QueueDepth == nil {
		t.Error("QueueDepth is nil")
	}
	if c.Weight == nil {
		t.Error("Weight is nil")
	}
	if c.ZombieBytes == nil {
		t.Error("ZombieBytes is nil")
	}
	if c.PacketsForwarded == nil {
		t.Error("PacketsForwarded is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.PacketsExpired == nil {
		t.Error("PacketsExpired is nil")
	}
	if c.FECBlocksEncoded == nil {
		t.Error("FECBlocksEncoded is nil")
	}
	if c.FECBlocksDecoded == nil {
		t.Error("FECBlocksDecoded is nil")
	}
	if c.FECBlocksLost == nil {
		t.Error("FECBlocksLost is nil")
	}
	if c.SondQueueOccupancy == nil {
		t.Error("SondQueueOccupancy is nil")
	}

	// Verify all metrics are registered by gathering them; registration
	// must not panic on duplicate/unregistered collectors.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestQueueDepthAndWeight(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ironmetrics.NewCollector(reg)

	c.SetQueueDepth("bin3", 42)
	if got := gaugeValue(t, c.QueueDepth, "bin3"); got != 42 {
		t.Errorf("QueueDepth(bin3) = %v, want 42", got)
	}

	c.SetWeight("bin3", "latency_sensitive", 0.75)
	if got := gaugeValue(t, c.Weight, "bin3", "latency_sensitive"); got != 0.75 {
		t.Errorf("Weight(bin3, latency_sensitive) = %v, want 0.75", got)
	}

	// Re-setting overwrites rather than accumulates.
	c.SetQueueDepth("bin3", 10)
	if got := gaugeValue(t, c.QueueDepth, "bin3"); got != 10 {
		t.Errorf("QueueDepth(bin3) after re-set = %v, want 10", got)
	}
}

func TestPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ironmetrics.NewCollector(reg)

	c.AddZombieBytes("bin1", 1500)
	c.AddZombieBytes("bin1", 500)
	if got := counterValue(t, c.ZombieBytes, "bin1"); got != 2000 {
		t.Errorf("ZombieBytes(bin1) = %v, want 2000", got)
	}

	c.IncPacketsForwarded("east")
	c.IncPacketsForwarded("east")
	if got := counterValue(t, c.PacketsForwarded, "east"); got != 2 {
		t.Errorf("PacketsForwarded(east) = %v, want 2", got)
	}

	c.IncPacketsDropped("history_loop")
	if got := counterValue(t, c.PacketsDropped, "history_loop"); got != 1 {
		t.Errorf("PacketsDropped(history_loop) = %v, want 1", got)
	}

	c.IncPacketsExpired("local")
	if got := counterValue(t, c.PacketsExpired, "local"); got != 1 {
		t.Errorf("PacketsExpired(local) = %v, want 1", got)
	}
}

func TestFECCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ironmetrics.NewCollector(reg)

	c.IncFECBlocksEncoded("udp:5000-5010")
	c.IncFECBlocksDecoded("udp:5000-5010")
	c.IncFECBlocksLost("udp:5000-5010")

	if got := counterValue(t, c.FECBlocksEncoded, "udp:5000-5010"); got != 1 {
		t.Errorf("FECBlocksEncoded = %v, want 1", got)
	}
	if got := counterValue(t, c.FECBlocksDecoded, "udp:5000-5010"); got != 1 {
		t.Errorf("FECBlocksDecoded = %v, want 1", got)
	}
	if got := counterValue(t, c.FECBlocksLost, "udp:5000-5010"); got != 1 {
		t.Errorf("FECBlocksLost = %v, want 1", got)
	}
}

func TestSondQueueOccupancy(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ironmetrics.NewCollector(reg)

	c.SetSondQueueOccupancy("east", "ef", 3)
	c.SetSondQueueOccupancy("east", "other", 12)

	if got := gaugeValue(t, c.SondQueueOccupancy, "east", "ef"); got != 3 {
		t.Errorf("SondQueueOccupancy(east, ef) = %v, want 3", got)
	}
	if got := gaugeValue(t, c.SondQueueOccupancy, "east", "other"); got != 12 {
		t.Errorf("SondQueueOccupancy(east, other) = %v, want 12", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
