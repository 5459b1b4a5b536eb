package audio

import (
	"encoding/base64"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(values ...int16) []byte {
	raw := make([]byte, 0, 2*len(values))
	for _, v := range values {
		raw = append(raw, byte(uint16(v)), byte(uint16(v)>>8))
	}
	return raw
}

func TestDecodeExtremes(t *testing.T) {
	const n = 64
	max := make([]int16, n)
	min := make([]int16, n)
	for i := range max {
		max[i] = 32767
		min[i] = -32768
	}

	buf, err := Decode(base64.StdEncoding.EncodeToString(pcm(max...)))
	require.NoError(t, err)
	require.Equal(t, n, buf.Frames())
	assert.Equal(t, SampleRate, buf.SampleRate)
	for _, s := range buf.Samples {
		assert.InDelta(t, 0.99997, s, 1e-5)
	}

	buf, err = Decode(base64.StdEncoding.EncodeToString(pcm(min...)))
	require.NoError(t, err)
	for _, s := range buf.Samples {
		assert.Equal(t, float32(-1.0), s)
	}
}

func TestDecodeDropsOddByteAndRejectsBadBase64(t *testing.T) {
	buf := DecodePCM(append(pcm(0, 16384), 0x7F))
	assert.Equal(t, []float32{0, 0.5}, buf.Samples)

	_, err := Decode("not base64!")
	assert.Error(t, err)
}

func TestBufferDuration(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, SampleRate/2), SampleRate: SampleRate}
	assert.Equal(t, 500*time.Millisecond, buf.Duration())
}

func TestRuntimeCreatesContextOnce(t *testing.T) {
	rt := NewRuntime()
	first := rt.Context()
	assert.Same(t, first, rt.Context())
	assert.Same(t, first.Analyser(), rt.Context().Analyser())

	rt.Close()
	assert.Same(t, first, rt.Context())
	assert.True(t, first.Closed())

	_, err := first.NewSource(DecodePCM(pcm(1)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSourceEndsAfterScaledDuration(t *testing.T) {
	ctx := NewRuntime().Context()
	src, err := ctx.NewSource(&Buffer{Samples: make([]float32, 2400), SampleRate: SampleRate})
	require.NoError(t, err)

	src.SetPlaybackRate(2)
	assert.Equal(t, 50*time.Millisecond, src.Duration())

	var ended atomic.Bool
	start := time.Now()
	require.NoError(t, src.Start(func() { ended.Store(true) }))
	assert.True(t, src.Playing())
	assert.ErrorIs(t, src.Start(nil), ErrAlreadyStarted)

	require.Eventually(t, ended.Load, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, src.Playing())
	assert.Equal(t, 2400, src.Position())
}

func TestStopSuppressesOnEnded(t *testing.T) {
	ctx := NewRuntime().Context()
	src, err := ctx.NewSource(&Buffer{Samples: make([]float32, 1200), SampleRate: SampleRate})
	require.NoError(t, err)

	var ended atomic.Bool
	require.NoError(t, src.Start(func() { ended.Store(true) }))
	src.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ended.Load())
	assert.False(t, src.Playing())
}

func TestAnalyserSilentWithoutPlayback(t *testing.T) {
	a := NewRuntime().Context().Analyser()
	data := make([]byte, a.FrequencyBinCount())
	assert.Equal(t, 128, a.ByteFrequencyData(data))
	for _, v := range data {
		assert.Zero(t, v)
	}
}

func TestAnalyserRespondsToTone(t *testing.T) {
	ctx := NewRuntime().Context()
	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*1500*float64(i)/SampleRate))
	}
	src, err := ctx.NewSource(&Buffer{Samples: samples, SampleRate: SampleRate})
	require.NoError(t, err)
	require.NoError(t, src.Start(nil))
	defer src.Stop()

	time.Sleep(30 * time.Millisecond)

	a := ctx.Analyser()
	data := make([]byte, a.FrequencyBinCount())
	var peak byte
	for i := 0; i < 20; i++ {
		a.ByteFrequencyData(data)
		for _, v := range data {
			if v > peak {
				peak = v
			}
		}
	}
	assert.Greater(t, peak, byte(100))
}
