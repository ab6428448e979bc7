// Package broadcast coalesces bursts of room changes into one snapshot
// broadcast per quantum.
package broadcast

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultQuantum is roughly one frame at 60Hz
const DefaultQuantum = 16 * time.Millisecond

// Coordinator owns at most one pending scheduled broadcast for a room
type Coordinator struct {
	clock   clockwork.Clock
	quantum time.Duration

	mu      sync.Mutex
	pending clockwork.Timer
	seq     uint64
}

// NewCoordinator creates a coordinator firing one quantum after the last Schedule call.
// A non-positive quantum uses DefaultQuantum.
func NewCoordinator(clock clockwork.Clock, quantum time.Duration) *Coordinator {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &Coordinator{
		clock:   clock,
		quantum: quantum,
	}
}

// Schedule replaces any pending broadcast with a new one that calls emit
// once after the quantum elapses. emit runs on the timer's goroutine.
func (c *Coordinator) Schedule(emit func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.pending.Stop()
	}

	c.seq++
	seq := c.seq
	c.pending = c.clock.AfterFunc(c.quantum, func() {
		c.fire(seq, emit)
	})
}

// EmitNow calls emit synchronously. A pending scheduled broadcast stays armed.
func (c *Coordinator) EmitNow(emit func()) {
	emit()
}

// Pending reports whether a scheduled broadcast is armed
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Stop cancels the pending broadcast, if any
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
		log.Debug().Str("module", "broadcast").Msg("cancelled pending broadcast")
	}
	c.seq++
}

func (c *Coordinator) fire(seq uint64, emit func()) {
	c.mu.Lock()
	if seq != c.seq {
		// Replaced after this timer had already fired.
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	emit()
}
