package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestSetPoolOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetPoolOccupancy(3, 253)

	require.Equal(t, float64(3), readGauge(t, m.PDUPoolInUse))
	require.Equal(t, float64(253), readGauge(t, m.PDUPoolFree))
}

func TestRecordPoolAllocationTiers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordPoolAllocation("worker_cache")
	m.RecordPoolAllocation("worker_cache")
	m.RecordPoolAllocation("overflow")

	require.Equal(t, float64(2), readCounterVec(t, m.PDUPoolAllocated, "worker_cache"))
	require.Equal(t, float64(1), readCounterVec(t, m.PDUPoolAllocated, "overflow"))
}

func TestSetARQWindowDepthPerPeer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetARQWindowDepth("peer-a", 12)
	m.SetARQWindowDepth("peer-b", 4)

	require.Equal(t, float64(12), readGaugeVec(t, m.ARQWindowDepth, "peer-a"))
	require.Equal(t, float64(4), readGaugeVec(t, m.ARQWindowDepth, "peer-b"))
}

func TestNilMetricsIsANoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.SetPoolOccupancy(1, 2)
		m.RecordPoolAllocation("overflow")
		m.SetARQWindowDepth("peer", 1)
		m.RecordRetransmit("peer")
		m.SetSAPBindsActive(1)
		m.RecordSAPBindAttempt("ok")
		m.RecordDecoded("dts")
		m.RecordFramingError("dts")
		m.RecordValidationDrop("dts")
	})
}

func readGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func readCounterVec(t *testing.T, cv *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, cv.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

func readGaugeVec(t *testing.T, gv *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, gv.WithLabelValues(label).Write(&m))
	return m.GetGauge().GetValue()
}
