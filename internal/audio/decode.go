// Package audio holds the process-wide playback context: PCM decoding,
// clock-driven sources and the frequency analyser that feeds lip-sync.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// SampleRate of synthesized speech, in frames per second.
const SampleRate = 24000

// Buffer is a mono waveform with samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Frames is the number of samples in the buffer.
func (b *Buffer) Frames() int {
	return len(b.Samples)
}

// Duration at normal playback rate.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Decode converts base64 16-bit little-endian PCM into a 24 kHz buffer.
func Decode(encoded string) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return DecodePCM(raw), nil
}

// DecodePCM converts raw 16-bit little-endian PCM. A trailing odd byte is
// ignored.
func DecodePCM(raw []byte) *Buffer {
	frames := len(raw) / 2
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768.0
	}
	return &Buffer{Samples: samples, SampleRate: SampleRate}
}
