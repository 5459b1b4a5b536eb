package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when a closed context is asked for a new source.
var ErrClosed = errors.New("audio context closed")

// Runtime owns the single playback context for the process. The context is
// created on first use and never recreated, even after Close.
type Runtime struct {
	once sync.Once
	ctx  *Context
	now  func() time.Time
}

// NewRuntime returns a runtime with no context yet.
func NewRuntime() *Runtime {
	return &Runtime{now: time.Now}
}

// Context returns the shared context, creating it on first call.
func (r *Runtime) Context() *Context {
	r.once.Do(func() {
		r.ctx = newContext(r.now)
	})
	return r.ctx
}

// Close tears the context down. A runtime closed before first use hands out
// an already closed context.
func (r *Runtime) Close() {
	r.Context().Close()
}

// Context plays one source at a time through its analyser.
type Context struct {
	mu       sync.Mutex
	now      func() time.Time
	analyser *Analyser
	active   *Source
	closed   bool
}

func newContext(now func() time.Time) *Context {
	c := &Context{now: now}
	c.analyser = newAnalyser(c.window)
	return c
}

// Analyser returns the context's only analyser.
func (c *Context) Analyser() *Analyser {
	return c.analyser
}

// NewSource prepares buf for playback at rate 1.
func (c *Context) NewSource(buf *Buffer) (*Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return &Source{ctx: c, buf: buf, rate: 1}, nil
}

// Close stops any active source. Later NewSource calls fail.
func (c *Context) Close() {
	c.mu.Lock()
	active := c.active
	c.closed = true
	c.active = nil
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) activate(s *Source) (*Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	prev := c.active
	c.active = s
	return prev, nil
}

func (c *Context) release(s *Source) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
}

// window copies the FFTSize samples ending at the active playhead into dst,
// zero-padding before the start and after the end of the buffer.
func (c *Context) window(dst []float64) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	for i := range dst {
		dst[i] = 0
	}
	if active == nil {
		return
	}

	samples, head := active.snapshot()
	start := head - len(dst)
	for i := range dst {
		idx := start + i
		if idx >= 0 && idx < len(samples) {
			dst[i] = float64(samples[idx])
		}
	}
}
