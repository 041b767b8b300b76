// internal/metrics/metrics_test.go
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilRegistryMeansNoMetrics(t *testing.T) {
	m := New(nil)
	assert.Nil(t, m)

	// every recorder is nil-safe
	m.BusDepth(3)
	m.PLCState(2)
	m.PLCRead()
	m.PLCWrite()
	m.PLCReconnect()
	m.PLCProtocolError()
	m.PLCCoalesced()
	m.Broadcast("data")
	m.PushClients(1)
	m.PushDropped("slow")
	m.JournalEvent()
	m.PatchRejected()
	m.UplinkError()
}

func TestNew_RecordsValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.PLCWrite()
	m.PLCWrite()
	m.PLCCoalesced()
	m.Broadcast("data")
	m.Broadcast("control")
	m.Broadcast("data")
	m.BusDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.plcWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.plcCoalesced))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("data")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.busDepth))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "station_plc_writes_total")
	assert.Contains(t, names, "station_controller_broadcasts_total")
}
