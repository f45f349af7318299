package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilBridgeIsNoop(t *testing.T) {
	var m *Bridge
	assert.NotPanics(t, func() {
		m.MarkerEnqueued("send_data")
		m.MarkerProcessed("send_data", "applied")
		m.Wait("ok")
		m.Deferred()
		m.PendingDone(1)
		m.Teardown("clean")
		m.Reclaimed()
		m.Poisoned()
	})
}

func TestBridgeCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.MarkerEnqueued("send_data")
	m.MarkerEnqueued("send_data")
	m.MarkerProcessed("send_data", "stale")
	m.Deferred()
	m.Deferred()
	m.PendingDone(2)
	m.Poisoned()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.markersEnqueued.WithLabelValues("send_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.markersProcessed.WithLabelValues("send_data", "stale")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deferred))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poisoned))
}

func TestNew_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.Wait("timeout")
	m.Reclaimed()

	samples, err := Summary(reg)
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, s := range samples {
		byName[s.Name] = s.Value
	}
	assert.Equal(t, 1.0, byName["simbridge_bridge_waits_total{status=timeout}"])
	assert.Equal(t, 1.0, byName["simbridge_bridge_instances_reclaimed_total"])
	assert.Contains(t, byName, "simbridge_bridge_poisoned")
}
