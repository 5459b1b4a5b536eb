package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when Start is called twice on one source.
var ErrAlreadyStarted = errors.New("audio source already started")

// Source plays one buffer. Its playhead advances with the wall clock at
// rate × SampleRate frames per second.
type Source struct {
	ctx *Context
	buf *Buffer

	mu        sync.Mutex
	rate      float64
	startedAt time.Time
	started   bool
	ended     bool
	timer     *time.Timer
	onEnded   func()
}

// SetPlaybackRate must be called before Start; non-positive rates mean 1.
func (s *Source) SetPlaybackRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate <= 0 {
		rate = 1
	}
	s.rate = rate
}

// PlaybackRate returns the configured rate.
func (s *Source) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Duration is the wall-clock playing time at the configured rate.
func (s *Source) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *Source) durationLocked() time.Duration {
	rate := float64(s.buf.SampleRate) * s.rate
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(s.buf.Frames()) / rate * float64(time.Second))
}

// Start begins playback. onEnded runs once, on its own goroutine, when the
// buffer is exhausted. It does not run after Stop.
func (s *Source) Start(onEnded func()) error {
	prev, err := s.ctx.activate(s)
	if err != nil {
		return err
	}
	if prev != nil && prev != s {
		prev.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.onEnded = onEnded
	s.startedAt = s.ctx.now()
	s.timer = time.AfterFunc(s.durationLocked(), s.finish)
	return nil
}

func (s *Source) finish() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	cb := s.onEnded
	s.mu.Unlock()

	s.ctx.release(s)
	if cb != nil {
		cb()
	}
}

// Stop silences the source without firing onEnded.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.ctx.release(s)
}

// Playing reports whether the source has started and not yet ended.
func (s *Source) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.ended
}

// Position returns the playhead in frames.
func (s *Source) Position() int {
	_, head := s.snapshot()
	return head
}

func (s *Source) snapshot() ([]float32, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return s.buf.Samples, 0
	}
	elapsed := s.ctx.now().Sub(s.startedAt).Seconds()
	head := int(elapsed * s.rate * float64(s.buf.SampleRate))
	if head > s.buf.Frames() || s.ended {
		head = s.buf.Frames()
	}
	return s.buf.Samples, head
}
