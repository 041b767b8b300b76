// internal/uplink/uplink_test.go
package uplink

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/metrics"
)

type fakePublisher struct {
	subjects []string
	frames   [][]byte
	fail     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.subjects = append(f.subjects, subject)
	f.frames = append(f.frames, data)
	return nil
}

func TestBroadcast_PublishesOnSubject(t *testing.T) {
	pub := &fakePublisher{}
	u := newUplink(pub, nil, "station.line1.events", nil, nil)

	u.Broadcast([]byte(`{"type":"data"}`))

	assert.Equal(t, []string{"station.line1.events"}, pub.subjects)
	assert.Equal(t, `{"type":"data"}`, string(pub.frames[0]))
}

func TestBroadcast_FailuresCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := &fakePublisher{fail: errors.New("nats: connection closed")}
	u := newUplink(pub, nil, "s", m, nil)

	u.Broadcast([]byte(`{}`))
	u.Broadcast([]byte(`{}`))
	assert.True(t, u.failing.Load())
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP station_uplink_publish_errors_total Failed NATS publishes
# TYPE station_uplink_publish_errors_total counter
station_uplink_publish_errors_total 2
`), "station_uplink_publish_errors_total"))

	pub.fail = nil
	u.Broadcast([]byte(`{}`))
	assert.False(t, u.failing.Load())
	assert.Len(t, pub.frames, 1)
}

func TestClose(t *testing.T) {
	closed := false
	u := newUplink(&fakePublisher{}, func() { closed = true }, "s", nil, nil)
	u.Close()
	assert.True(t, closed)
}

func TestConnect_RequiresURLAndSubject(t *testing.T) {
	_, err := Connect(config.UplinkConfig{Subject: "s"}, nil, nil)
	require.Error(t, err)
	_, err = Connect(config.UplinkConfig{NATSURL: "nats://127.0.0.1:4222"}, nil, nil)
	require.Error(t, err)
}
