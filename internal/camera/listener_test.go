// internal/camera/listener_test.go
package camera

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/station-bridge/internal/bus"
)

type recordingPub struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (p *recordingPub) Push(m bus.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
}

func (p *recordingPub) byType(typ string) []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Message
	for _, m := range p.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func startListener(t *testing.T, cfg Config) (*recordingPub, string) {
	t.Helper()
	pub := &recordingPub{}
	l, err := New(cfg, pub)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return pub, ln.Addr().String()
}

func TestClean(t *testing.T) {
	assert.Equal(t, "ABC123", Clean([]byte("ABC123\r\n")))
	assert.Equal(t, "AB", Clean([]byte("\rA\nB\r")))
	assert.Equal(t, "", Clean([]byte("\r\n\r\n")))
}

func TestListener_MappedCameraBarcodes(t *testing.T) {
	pub, addr := startListener(t, Config{
		IdleTimeout: time.Hour,
		Mapping:     map[string]string{"127.0.0.1": "CAMERA_LEFT_1"},
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("4240912013144\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.byType(bus.TypeData)) == 1 }, 2*time.Second, 5*time.Millisecond)
	msg := pub.byType(bus.TypeData)[0]
	assert.Equal(t, "CAMERA_LEFT_1", msg.Source)
	assert.Equal(t, "4240912013144", msg.Payload)
	assert.True(t, msg.IsCamera())

	// terminator-only chunk produces nothing
	_, err = conn.Write([]byte("\r\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, pub.byType(bus.TypeData), 1)
}

func TestListener_UnknownCameraName(t *testing.T) {
	pub, addr := startListener(t, Config{IdleTimeout: time.Hour})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("X1\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.byType(bus.TypeData)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "CAMERA_UNKNOWN_127.0.0.1", pub.byType(bus.TypeData)[0].Source)
}

func TestListener_IdleTimeoutRepeats(t *testing.T) {
	pub, addr := startListener(t, Config{
		IdleTimeout: 30 * time.Millisecond,
		Mapping:     map[string]string{"127.0.0.1": "CAMERA_RIGHT_1"},
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(pub.byType(bus.TypeTimeout)) >= 2 }, 2*time.Second, 5*time.Millisecond)
	msg := pub.byType(bus.TypeTimeout)[0]
	assert.Equal(t, "CAMERA_RIGHT_1_MONITOR", msg.Source)
	assert.Equal(t, TimeoutBlank, msg.Payload)
}

func TestSourceFor(t *testing.T) {
	l, err := New(Config{Mapping: map[string]string{"10.0.0.5": "CAMERA_UP"}}, &recordingPub{})
	require.NoError(t, err)
	assert.Equal(t, "CAMERA_UP", l.SourceFor("10.0.0.5"))
	assert.Equal(t, "CAMERA_UNKNOWN_10.0.0.6", l.SourceFor("10.0.0.6"))
}
