package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the named series with the given label values,
// summed over matching series, and the number of matches.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, int) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var sum float64
	var count int
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			count++
			switch {
			case m.Counter != nil:
				sum += m.GetCounter().GetValue()
			case m.Gauge != nil:
				sum += m.GetGauge().GetValue()
			case m.Histogram != nil:
				sum += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return sum, count
}

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))

	m.Connected()
	m.AddBytes(DirectionOut, LayerWire, 10)
	m.AddBytes(DirectionOut, LayerWire, 5)
	m.AddBytes(DirectionIn, LayerPayload, 0)
	m.IncMessages(DirectionIn)
	m.ObserveRTT(3 * time.Millisecond)
	m.Disconnected("hard")

	v, _ := sample(t, reg, "test_bytes_total", map[string]string{"direction": DirectionOut, "layer": LayerWire})
	assert.Equal(t, 15.0, v)

	_, n := sample(t, reg, "test_bytes_total", map[string]string{"direction": DirectionIn})
	assert.Zero(t, n, "zero-byte adds create no series")

	v, _ = sample(t, reg, "test_messages_total", map[string]string{"direction": DirectionIn})
	assert.Equal(t, 1.0, v)

	v, _ = sample(t, reg, "test_disconnects_total", map[string]string{"kind": "hard"})
	assert.Equal(t, 1.0, v)

	v, _ = sample(t, reg, "test_connections_active", nil)
	assert.Equal(t, 0.0, v)

	v, _ = sample(t, reg, "test_ping_rtt_seconds", nil)
	assert.Equal(t, 1.0, v)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.Connected()
		m.AddBytes(DirectionIn, LayerWire, 1)
		m.IncMessages(DirectionOut)
		m.ObserveRTT(time.Second)
		m.Disconnected("graceful")
	})
}
