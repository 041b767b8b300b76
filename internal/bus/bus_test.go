// internal/bus/bus_test.go
package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FIFOPerProducer(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Push(Message{Source: SourceScanner, Type: TypeData, Payload: i})
	}
	require.Equal(t, 5, b.Len())

	for i := 0; i < 5; i++ {
		msg, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, i, msg.Payload)
	}
	assert.Equal(t, 0, b.Len())
}

func TestBus_PopBlocksUntilPush(t *testing.T) {
	b := New()
	got := make(chan Message, 1)

	go func() {
		msg, ok := b.Pop()
		if ok {
			got <- msg
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(50 * time.Millisecond):
	}

	b.Push(Message{Source: SourcePLC, Type: TypeStatus})

	select {
	case msg := <-got:
		assert.Equal(t, SourcePLC, msg.Source)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake")
	}
}

func TestBus_StopDrainsThenEnds(t *testing.T) {
	b := New()
	b.Push(Message{Source: SourceSys, Type: TypeHeartbeat, Payload: 1})
	b.Push(Message{Source: SourceSys, Type: TypeHeartbeat, Payload: 2})
	b.Stop()

	msg, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, msg.Payload)

	msg, ok = b.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, msg.Payload)

	_, ok = b.Pop()
	assert.False(t, ok)
	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestBus_StopWakesBlockedConsumer(t *testing.T) {
	b := New()
	done := make(chan bool, 1)

	go func() {
		_, ok := b.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer still blocked after stop")
	}
}

func TestBus_PushAfterStopDropped(t *testing.T) {
	b := New()
	b.Stop()

	assert.ErrorIs(t, b.PushErr(Message{Source: SourceWS, Type: TypeCmd}), ErrStopped)
	b.Push(Message{Source: SourceWS, Type: TypeCmd})
	assert.Equal(t, 0, b.Len())
}

func TestBus_ConcurrentProducers(t *testing.T) {
	b := New()
	const producers, each = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				b.Push(Message{Source: SourceScanner, Payload: [2]int{p, i}})
			}
		}(p)
	}
	wg.Wait()
	b.Stop()

	last := make(map[int]int)
	n := 0
	for {
		msg, ok := b.Pop()
		if !ok {
			break
		}
		pi := msg.Payload.([2]int)
		if prev, seen := last[pi[0]]; seen {
			assert.Greater(t, pi[1], prev, "producer %d reordered", pi[0])
		}
		last[pi[0]] = pi[1]
		n++
	}
	assert.Equal(t, producers*each, n)
}

func TestMessage_IsCamera(t *testing.T) {
	assert.True(t, Message{Source: "CAMERA_UP"}.IsCamera())
	assert.True(t, Message{Source: "CAMERA_UNKNOWN_10.0.0.9"}.IsCamera())
	assert.False(t, Message{Source: SourceScanner}.IsCamera())
}
