// Package lipsync converts analyser output into a mouth-openness signal.
package lipsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ReferenceLevel is the mean byte magnitude that maps to a fully open mouth.
const ReferenceLevel = 64.0

// FrequencySource is the analyser surface the driver samples.
type FrequencySource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte) int
}

// Driver samples a FrequencySource once per frame while running and
// publishes the resulting openness in [0, 1].
type Driver struct {
	interval time.Duration
	publish  func(float64)
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a driver sampling fps times per second. publish must not
// call back into the driver.
func NewDriver(fps int, publish func(float64), logger zerolog.Logger) *Driver {
	if fps <= 0 {
		fps = 60
	}
	return &Driver{
		interval: time.Second / time.Duration(fps),
		publish:  publish,
		logger:   logger,
	}
}

// Openness maps byte magnitudes to [0, 1].
func Openness(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, v := range data {
		sum += int(v)
	}
	level := float64(sum) / float64(len(data)) / ReferenceLevel
	if level > 1 {
		return 1
	}
	return level
}

// Start begins sampling src, replacing any loop already running.
func (d *Driver) Start(src FrequencySource) {
	d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.loop(ctx, src, done)
	d.logger.Debug().Dur("interval", d.interval).Msg("lip-sync started")
}

// Stop halts the loop, waits for it to exit and rests the mouth at 0. It is
// safe to call when not running.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.publish(0)
	d.logger.Debug().Msg("lip-sync stopped")
}

// Running reports whether a loop is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// loop re-arms a single timer after each frame so at most one sample is
// ever pending.
func (d *Driver) loop(ctx context.Context, src FrequencySource, done chan struct{}) {
	defer close(done)

	data := make([]byte, src.FrequencyBinCount())
	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n := src.ByteFrequencyData(data)
		if ctx.Err() != nil {
			return
		}
		d.publish(Openness(data[:n]))
		timer.Reset(d.interval)
	}
}
