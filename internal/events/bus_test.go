package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversEventsWithIncreasingSeq(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Publish(TypeStatus, map[string]string{"status": "thinking"})
	bus.Publish(TypeEmotion, map[string]string{"emotion": "happy"})

	got := collect(t, ch, 2)
	assert.Equal(t, TypeStatus, got[0].Type)
	assert.Equal(t, TypeEmotion, got[1].Type)
	assert.Equal(t, got[0].Seq+1, got[1].Seq)

	var data map[string]string
	require.NoError(t, json.Unmarshal(got[1].Data, &data))
	assert.Equal(t, "happy", data["emotion"])
}

func TestBusPreservesOrderUnderBurst(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	const n = 2000
	go func() {
		for i := 0; i < n; i++ {
			bus.Publish(TypeMouth, map[string]int{"value": i})
		}
	}()

	got := collect(t, ch, n)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Seq, got[i-1].Seq, "event %d arrived out of order", i)
	}

	var last map[string]int
	require.NoError(t, json.Unmarshal(got[n-1].Data, &last))
	assert.Equal(t, n-1, last["value"])
}

func TestBusOrdersConcurrentPublishers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	const publishers, each = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(typ Type) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				bus.Publish(typ, nil)
			}
		}([]Type{TypeMouth, TypeStatus, TypeEmotion, TypeLearning}[p])
	}

	got := collect(t, ch, publishers*each)
	wg.Wait()
	for i, evt := range got {
		require.Equal(t, uint64(i+1), evt.Seq)
	}
}

func TestSlowSubscriberDoesNotStallPublisher(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	const n = 500
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			bus.Publish(TypeMouth, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stalled behind an idle subscriber")
	}

	got := collect(t, ch, n)
	assert.Equal(t, uint64(n), got[n-1].Seq)
}

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	got := make([]Event, 0, n)
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "channel closed after %d events", len(got))
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("received %d of %d events before timeout", len(got), n)
		}
	}
	return got
}

func TestSubscribeChannelClosesWithContext(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TypeMouth, map[string]float64{"value": 0.5})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
