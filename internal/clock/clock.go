// Package clock provides the logical tick source that every scheduling
// decision in the engine is made against. Ticks only move forward and are
// advanced by an external driver, never by wall time.
package clock

import (
	"fmt"
	"sync/atomic"
)

// Clock reports the current logical tick.
type Clock interface {
	Now() uint64
}

// Source is a Clock the engine can move forward and restore.
type Source interface {
	Clock
	Advance(n uint64) uint64
	Set(tick uint64) error
}

// Logical is a monotonic, concurrency-safe tick counter.
type Logical struct {
	tick atomic.Uint64
}

// NewLogical returns a clock positioned at start.
func NewLogical(start uint64) *Logical {
	c := &Logical{}
	c.tick.Store(start)
	return c
}

func (c *Logical) Now() uint64 {
	return c.tick.Load()
}

// Advance moves the clock forward by n ticks and returns the new tick.
func (c *Logical) Advance(n uint64) uint64 {
	return c.tick.Add(n)
}

// Set moves the clock to tick. Moving backwards is rejected.
func (c *Logical) Set(tick uint64) error {
	for {
		cur := c.tick.Load()
		if tick < cur {
			return fmt.Errorf("clock cannot move backwards: current %d, requested %d", cur, tick)
		}
		if c.tick.CompareAndSwap(cur, tick) {
			return nil
		}
	}
}
