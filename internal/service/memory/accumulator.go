// Package memory keeps the bounded set of facts the agent has learned about
// the user.
package memory

import (
	"strings"
	"sync"
	"time"
)

const (
	// Capacity is the maximum number of facts retained.
	Capacity = 30
	// DefaultFlash is how long the learning flag stays raised.
	DefaultFlash = 2 * time.Second
)

// Options configures an Accumulator. All callbacks are optional and are
// invoked outside the accumulator lock.
type Options struct {
	Flash time.Duration
	// OnChange receives the full fact list after every mutation.
	OnChange func(facts []string)
	// OnLearning fires when the learning flag is raised and when it clears.
	OnLearning func(active bool)
}

// Accumulator is safe for concurrent use.
type Accumulator struct {
	mu       sync.Mutex
	facts    []string
	learning bool
	gen      uint64
	timer    *time.Timer
	closed   bool

	flash      time.Duration
	onChange   func([]string)
	onLearning func(bool)
}

// New returns an accumulator seeded with initial, normalized.
func New(initial []string, opts Options) *Accumulator {
	flash := opts.Flash
	if flash <= 0 {
		flash = DefaultFlash
	}
	return &Accumulator{
		facts:      Merge(nil, initial),
		flash:      flash,
		onChange:   opts.OnChange,
		onLearning: opts.OnLearning,
	}
}

// Merge unions incoming into existing with exact-string dedup, keeping first
// occurrence order, then keeps the newest Capacity entries. Blank facts are
// dropped; everything else is stored exactly as reported.
func Merge(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, fact := range list {
			if strings.TrimSpace(fact) == "" {
				continue
			}
			if _, dup := seen[fact]; dup {
				continue
			}
			seen[fact] = struct{}{}
			merged = append(merged, fact)
		}
	}
	if len(merged) > Capacity {
		merged = merged[len(merged)-Capacity:]
	}
	return merged
}

// RecordLearnings merges newly reported facts and raises the learning flag.
// An empty report is a no-op.
func (a *Accumulator) RecordLearnings(facts []string) {
	if len(clean(facts)) == 0 {
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.facts = Merge(a.facts, facts)
	snapshot := a.copyFacts()

	a.learning = true
	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.flash, func() { a.lowerFlag(gen) })
	a.mu.Unlock()

	a.notifyChange(snapshot)
	a.notifyLearning(true)
}

func (a *Accumulator) lowerFlag(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || !a.learning {
		a.mu.Unlock()
		return
	}
	a.learning = false
	a.timer = nil
	a.mu.Unlock()

	a.notifyLearning(false)
}

// Remove deletes the fact at index. Out-of-range indexes are ignored.
func (a *Accumulator) Remove(index int) bool {
	a.mu.Lock()
	if index < 0 || index >= len(a.facts) {
		a.mu.Unlock()
		return false
	}
	next := make([]string, 0, len(a.facts)-1)
	next = append(next, a.facts[:index]...)
	next = append(next, a.facts[index+1:]...)
	a.facts = next
	snapshot := a.copyFacts()
	a.mu.Unlock()

	a.notifyChange(snapshot)
	return true
}

// Clear empties the set and lowers a raised learning flag.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	a.facts = nil
	wasLearning := a.learning
	a.learning = false
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	a.notifyChange([]string{})
	if wasLearning {
		a.notifyLearning(false)
	}
}

// Facts returns a copy of the current set, oldest first.
func (a *Accumulator) Facts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyFacts()
}

// Learning reports whether the learning flag is raised.
func (a *Accumulator) Learning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.learning
}

// Close cancels a pending flag timer. Further learnings are ignored.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.learning = false
}

func (a *Accumulator) copyFacts() []string {
	return append([]string{}, a.facts...)
}

func (a *Accumulator) notifyChange(facts []string) {
	if a.onChange != nil {
		a.onChange(facts)
	}
}

func (a *Accumulator) notifyLearning(active bool) {
	if a.onLearning != nil {
		a.onLearning(active)
	}
}

func clean(facts []string) []string {
	out := facts[:0:0]
	for _, f := range facts {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}
