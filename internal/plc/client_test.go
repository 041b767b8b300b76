// internal/plc/client_test.go
package plc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/station-bridge/internal/bus"
	"github.com/tamzrod/station-bridge/internal/config"
	"github.com/tamzrod/station-bridge/internal/plc/mc"
	"github.com/tamzrod/station-bridge/internal/status"
)

var testPoints = config.Points{
	UpIn: 503, UpOut: 506, DnIn: 542, DnOut: 545, Start: 630,
	WriteTrigger: 700, WriteResult: 701,
}

// ---- fakes ----

type chanPub struct {
	ch chan bus.Message
}

func newChanPub() *chanPub { return &chanPub{ch: make(chan bus.Message, 256)} }

func (p *chanPub) Push(m bus.Message) {
	select {
	case p.ch <- m:
	default:
	}
}

// fakePLC speaks just enough 3E to serve batch reads and single-point writes.
type fakePLC struct {
	ln net.Listener

	mu              sync.Mutex
	mem             map[int]bool
	writes          []WriteCommand
	accepts         int
	rejectAddr      int
	closeAfterReads int
	shortRead       bool
	silentReads     bool
}

func newFakePLC(t *testing.T, opts ...func(*fakePLC)) *fakePLC {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakePLC{ln: ln, mem: make(map[int]bool), rejectAddr: -1}
	for _, o := range opts {
		o(f)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakePLC) addr() string { return f.ln.Addr().String() }

func (f *fakePLC) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.accepts++
		f.mu.Unlock()
		go f.handle(conn)
	}
}

func (f *fakePLC) handle(conn net.Conn) {
	defer conn.Close()
	reads := 0

	for {
		var hdr [9]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint16(hdr[7:9]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		cmd := binary.LittleEndian.Uint16(body[2:4])
		addr := int(body[6]) | int(body[7])<<8 | int(body[8])<<16
		points := int(binary.LittleEndian.Uint16(body[10:12]))

		switch cmd {
		case mc.CmdBatchRead:
			reads++
			f.mu.Lock()
			data := make([]byte, mc.ExpectedDataLen(points))
			for a, on := range f.mem {
				off := a - addr
				if !on || off < 0 || off/2 >= len(data) {
					continue
				}
				if off%2 == 0 {
					data[off/2] |= 0x10
				} else {
					data[off/2] |= 0x01
				}
			}
			short, closeAfter, silent := f.shortRead, f.closeAfterReads, f.silentReads
			f.mu.Unlock()

			if silent {
				continue
			}

			if short {
				data = data[:len(data)-1]
			}
			_, _ = conn.Write(reply(0, data))
			if closeAfter > 0 && reads >= closeAfter {
				return
			}

		case mc.CmdBatchWrite:
			on := body[12] == mc.BitOn
			f.mu.Lock()
			f.writes = append(f.writes, WriteCommand{Address: addr, Value: on})
			reject := addr == f.rejectAddr
			if !reject {
				f.mem[addr] = on
			}
			f.mu.Unlock()

			var code uint16
			if reject {
				code = 0xC056
			}
			_, _ = conn.Write(reply(code, nil))
		}
	}
}

func (f *fakePLC) set(addr int, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[addr] = on
}

func (f *fakePLC) writeLog() []WriteCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteCommand(nil), f.writes...)
}

func (f *fakePLC) acceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts
}

func reply(endCode uint16, data []byte) []byte {
	n := len(data) + 2
	out := []byte{0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, byte(n), byte(n >> 8), byte(endCode), byte(endCode >> 8)}
	return append(out, data...)
}

type fakeObserver struct {
	mu     sync.Mutex
	ups    int
	downs  int
	codes  []uint16
	lastEr error
}

func (o *fakeObserver) LinkUp() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ups++
}

func (o *fakeObserver) LinkDown(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.downs++
	o.lastEr = err
}

func (o *fakeObserver) LinkError(code uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = append(o.codes, code)
}

func (o *fakeObserver) counts() (int, int, []uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ups, o.downs, append([]uint16(nil), o.codes...)
}

type failingDialer struct{}

func (failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		ConnectTimeout: 500 * time.Millisecond,
		IOTimeout:      500 * time.Millisecond,
		ReconnectDelay: 20 * time.Millisecond,
		WriteInterval:  time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg Config) (*Client, *chanPub) {
	t.Helper()
	pub := newChanPub()
	c, err := New(cfg, testPoints, pub)
	require.NoError(t, err)
	return c, pub
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func drain(c *Client) []WriteCommand {
	var out []WriteCommand
	for {
		cmd, ok := c.popWrite()
		if !ok {
			return out
		}
		out = append(out, cmd)
	}
}

// ---- geometry ----

func TestDeriveRange(t *testing.T) {
	start, count := DeriveRange(testPoints)
	assert.Equal(t, 500, start)
	assert.Equal(t, 150, count)

	start, count = DeriveRange(config.Points{UpIn: 100, UpOut: 101, DnIn: 102, DnOut: 103, Start: 104})
	assert.Equal(t, 100, start)
	assert.Equal(t, 100, count, "minimum window")

	start, count = DeriveRange(config.Points{UpIn: 99, UpOut: 150, DnIn: 20, DnOut: 0, Start: 250})
	assert.Equal(t, 0, start)
	assert.Equal(t, 270, count)
}

func TestDecodePoints_Parity(t *testing.T) {
	raw := make([]byte, 75)
	raw[(503-500)/2] |= 0x01 // odd offset
	raw[(506-500)/2] |= 0x10 // even offset
	raw[(630-500)/2] |= 0x10

	p := DecodePoints(raw, 500, testPoints)
	assert.Equal(t, status.Points{UpIn: true, UpOut: true, StartMessage: true}, p)

	// the partner bit of each byte is independent
	assert.False(t, Decode(raw, 500, 502))
	assert.False(t, Decode(raw, 500, 507))
	assert.False(t, Decode(raw, 500, 499))
	assert.False(t, Decode(raw, 500, 650))
}

// ---- queue semantics ----

func TestWriteBit_Coalescing(t *testing.T) {
	c, _ := newTestClient(t, testConfig("127.0.0.1:1"))

	c.WriteBit(700, true)
	c.WriteBit(700, true)
	assert.Equal(t, 1, c.QueueLen())

	c.WriteBit(700, false)
	c.WriteBit(700, true)
	assert.Equal(t, []WriteCommand{
		{Address: 700, Value: true},
		{Address: 700, Value: false},
		{Address: 700, Value: true},
	}, drain(c))
}

func TestWritePulsePair_AutoReset(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.PulseHold = 40 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	c.WritePulsePair(700, true, 701, true)
	assert.Equal(t, 2, c.QueueLen())

	require.Eventually(t, func() bool { return c.QueueLen() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []WriteCommand{
		{Address: 700, Value: true},
		{Address: 701, Value: true},
		{Address: 700, Value: false},
		{Address: 701, Value: false},
	}, drain(c))
}

func TestWritePulsePair_ResetBypassesCoalescing(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.PulseHold = 30 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	// NOGO: trigger already false in cache, still forced on reset
	c.WriteBit(700, false)
	drain(c)

	c.WritePulsePair(700, false, 701, true)
	assert.Equal(t, 1, c.QueueLen(), "trigger=false coalesced")

	require.Eventually(t, func() bool { return c.QueueLen() == 3 }, time.Second, 5*time.Millisecond)
	got := drain(c)
	assert.Equal(t, WriteCommand{Address: 700, Value: false}, got[1])
	assert.Equal(t, WriteCommand{Address: 701, Value: false}, got[2])
}

func TestWritePulsePair_SupersedeCancelsReset(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.PulseHold = 80 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	c.WritePulsePair(700, true, 701, true)
	time.Sleep(40 * time.Millisecond)
	c.WritePulsePair(700, false, 701, true)

	// first reset would have fired at ~80ms; only the second one fires at ~120ms
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []WriteCommand{
		{Address: 700, Value: true},
		{Address: 701, Value: true},
		{Address: 700, Value: false},
		{Address: 700, Value: false},
		{Address: 701, Value: false},
	}, drain(c))
}

func TestSafetyReset_CancelsPulse(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.PulseHold = 30 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	c.WritePulsePair(700, true, 701, true)
	c.SafetyReset()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []WriteCommand{
		{Address: 700, Value: true},
		{Address: 701, Value: true},
		{Address: 700, Value: false},
		{Address: 701, Value: false},
	}, drain(c))
}

func TestPrependSafety_CacheFollowsLastQueued(t *testing.T) {
	c, _ := newTestClient(t, testConfig("127.0.0.1:1"))

	c.WriteBit(701, true)
	c.prependSafety()

	assert.Equal(t, []WriteCommand{
		{Address: 700, Value: false},
		{Address: 701, Value: false},
		{Address: 701, Value: true},
	}, drain(c))

	c.WriteBit(700, false)
	c.WriteBit(701, true)
	assert.Zero(t, c.QueueLen(), "cache reflects last queued value per address")
}

func TestInvalidate_KeepsEntryWhenLaterCommandQueued(t *testing.T) {
	c, _ := newTestClient(t, testConfig("127.0.0.1:1"))

	c.WriteBit(702, true)
	c.WriteBit(702, false)
	cmd, _ := c.popWrite()
	c.invalidate(cmd)

	c.WriteBit(702, false)
	assert.Equal(t, 1, c.QueueLen(), "entry kept: pending false still coalesces")

	cmd, _ = c.popWrite()
	c.invalidate(cmd)
	c.WriteBit(702, false)
	assert.Equal(t, 1, c.QueueLen(), "entry dropped: next write goes out")
}

// ---- link loop against a fake PLC ----

func TestRun_SafetyWritesFirstThenQueued(t *testing.T) {
	f := newFakePLC(t)
	c, _ := newTestClient(t, testConfig(f.addr()))

	c.WriteBit(700, true)
	runClient(t, c)

	require.Eventually(t, func() bool { return len(f.writeLog()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []WriteCommand{
		{Address: 700, Value: false},
		{Address: 701, Value: false},
		{Address: 700, Value: true},
	}, f.writeLog()[:3])
	assert.Equal(t, Connected, c.State())
}

func TestRun_PublishesStatusFrames(t *testing.T) {
	f := newFakePLC(t)
	f.set(503, true)
	f.set(630, true)
	c, pub := newTestClient(t, testConfig(f.addr()))
	runClient(t, c)

	select {
	case msg := <-pub.ch:
		assert.Equal(t, bus.SourcePLC, msg.Source)
		assert.Equal(t, bus.TypeStatus, msg.Type)
		frame, ok := msg.Payload.(StatusFrame)
		require.True(t, ok)
		assert.Equal(t, 500, frame.StartAddr)
		assert.Len(t, frame.Raw, 75)
		assert.Equal(t,
			status.Points{UpIn: true, StartMessage: true},
			DecodePoints(frame.Raw, frame.StartAddr, testPoints),
		)
	case <-time.After(2 * time.Second):
		t.Fatal("no status frame published")
	}
}

func TestRun_RejectedWriteInvalidatesCache(t *testing.T) {
	f := newFakePLC(t, func(f *fakePLC) { f.rejectAddr = 702 })
	obs := &fakeObserver{}

	cfg := testConfig(f.addr())
	cfg.Observer = obs
	c, _ := newTestClient(t, cfg)
	runClient(t, c)

	c.WriteBit(702, true)
	count702 := func() int {
		n := 0
		for _, w := range f.writeLog() {
			if w.Address == 702 {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool { return count702() == 1 }, 2*time.Second, 5*time.Millisecond)

	// same value again must be transmitted once the failure is recorded
	require.Eventually(t, func() bool {
		c.WriteBit(702, true)
		return count702() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	_, _, codes := obs.counts()
	require.NotEmpty(t, codes)
	assert.Equal(t, uint16(0xC056), codes[0])
	assert.Equal(t, Connected, c.State(), "protocol errors keep the link")
}

func TestRun_ReconnectsAndRepeatsSafetyWrites(t *testing.T) {
	f := newFakePLC(t, func(f *fakePLC) { f.closeAfterReads = 1 })
	obs := &fakeObserver{}

	cfg := testConfig(f.addr())
	cfg.Observer = obs
	c, _ := newTestClient(t, cfg)
	runClient(t, c)

	require.Eventually(t, func() bool { return f.acceptCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.writeLog()) >= 4 }, 2*time.Second, 5*time.Millisecond)

	w := f.writeLog()
	assert.Equal(t, WriteCommand{Address: 700, Value: false}, w[2])
	assert.Equal(t, WriteCommand{Address: 701, Value: false}, w[3])

	ups, downs, _ := obs.counts()
	assert.GreaterOrEqual(t, ups, 2)
	assert.GreaterOrEqual(t, downs, 1)
}

func TestRun_UnansweredReadTimesOutAndReconnects(t *testing.T) {
	f := newFakePLC(t, func(f *fakePLC) { f.silentReads = true })
	obs := &fakeObserver{}

	cfg := testConfig(f.addr())
	cfg.IOTimeout = 100 * time.Millisecond
	cfg.Observer = obs
	c, pub := newTestClient(t, cfg)
	runClient(t, c)

	require.Eventually(t, func() bool { return f.acceptCount() >= 2 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.writeLog()) >= 4 }, 3*time.Second, 5*time.Millisecond)

	w := f.writeLog()
	assert.Equal(t, WriteCommand{Address: 700, Value: false}, w[2])
	assert.Equal(t, WriteCommand{Address: 701, Value: false}, w[3])
	assert.Empty(t, pub.ch, "nothing is published without a response")

	obs.mu.Lock()
	downErr := obs.lastEr
	obs.mu.Unlock()
	require.Error(t, downErr)
	var ne net.Error
	require.ErrorAs(t, downErr, &ne)
	assert.True(t, ne.Timeout())
}

func TestRun_ShortResponseIsTransportError(t *testing.T) {
	f := newFakePLC(t, func(f *fakePLC) { f.shortRead = true })
	c, pub := newTestClient(t, testConfig(f.addr()))
	runClient(t, c)

	require.Eventually(t, func() bool { return f.acceptCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.ch, "short frames are never published")
}

func TestRun_ConnectFailureReportsLinkDown(t *testing.T) {
	obs := &fakeObserver{}
	cfg := testConfig("127.0.0.1:5000")
	cfg.Dialer = failingDialer{}
	cfg.Observer = obs
	c, _ := newTestClient(t, cfg)
	runClient(t, c)

	require.Eventually(t, func() bool {
		_, downs, _ := obs.counts()
		return downs >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, Connected, c.State())
}

func TestNew_RequiresEndpointAndPublisher(t *testing.T) {
	_, err := New(Config{}, testPoints, newChanPub())
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "127.0.0.1:1"}, testPoints, nil)
	assert.Error(t, err)
}
