package lipsync

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constSource struct{ level byte }

func (c constSource) FrequencyBinCount() int { return 128 }

func (c constSource) ByteFrequencyData(dst []byte) int {
	for i := range dst {
		dst[i] = c.level
	}
	return len(dst)
}

type recorder struct {
	mu     sync.Mutex
	values []float64
}

func (r *recorder) publish(v float64) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func TestOpenness(t *testing.T) {
	assert.Zero(t, Openness(nil))
	assert.Equal(t, 0.5, Openness([]byte{32, 32}))
	assert.Equal(t, 1.0, Openness([]byte{200, 255}))
	assert.Equal(t, 0.25, Openness([]byte{0, 32}))
}

func TestDriverPublishesWhileRunning(t *testing.T) {
	rec := &recorder{}
	d := NewDriver(200, rec.publish, zerolog.Nop())

	d.Start(constSource{level: 32})
	assert.True(t, d.Running())
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)

	d.Stop()
	assert.False(t, d.Running())

	values := rec.snapshot()
	assert.Equal(t, 0.0, values[len(values)-1])
	for _, v := range values[:len(values)-1] {
		assert.Equal(t, 0.5, v)
	}
}

func TestDriverLeavesNoWorkAfterStop(t *testing.T) {
	rec := &recorder{}
	d := NewDriver(500, rec.publish, zerolog.Nop())

	d.Start(constSource{level: 64})
	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, time.Second, time.Millisecond)
	d.Stop()

	count := len(rec.snapshot())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), count)
}

func TestDriverStopIdempotent(t *testing.T) {
	rec := &recorder{}
	d := NewDriver(60, rec.publish, zerolog.Nop())
	d.Stop()
	assert.Empty(t, rec.snapshot())

	d.Start(constSource{})
	d.Start(constSource{})
	d.Stop()
	d.Stop()
	assert.False(t, d.Running())
}
