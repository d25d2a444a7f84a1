// Package timer keeps the Timing Contexts attached to runtime slots.
//
// A slot holds at most one context handle at a time. Pushing a context onto
// an occupied slot links the new context to the old occupant, and
// finalizing it rewinds the slot, so every slot behaves as a stack whose
// top is the live context.
package timer

import (
	"strconv"
	"sync/atomic"

	"ompt_exporter/internal/contract"
	"ompt_exporter/internal/engine"
)

// Handle is an arena index stored in a slot's Ptr. Zero means empty.
type Handle uint64

// State is the lifecycle stage of a context.
type State uint8

const (
	NotStarted State = iota
	Running
	Suspended
	released
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case released:
		return "released"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Context is one timed interval bound to a slot.
//
// Only the thread currently executing the slot's entity touches a context,
// except for its interval, which children on other threads read as their
// parent.
type Context struct {
	handle Handle
	label  string
	id     uint64
	prev   Handle
	parent engine.IntervalHandle
	state  State

	interval atomic.Uint64
	eng      engine.Engine
}

func (c *Context) Handle() Handle                { return c.handle }
func (c *Context) Label() string                 { return c.label }
func (c *Context) ID() uint64                    { return c.id }
func (c *Context) Prev() Handle                  { return c.prev }
func (c *Context) Parent() engine.IntervalHandle { return c.parent }
func (c *Context) State() State                  { return c.state }

// Interval returns the engine handle, zero before the first Start.
func (c *Context) Interval() engine.IntervalHandle {
	if c == nil {
		return 0
	}
	return engine.IntervalHandle(c.interval.Load())
}

// Running reports whether the interval is currently being timed.
func (c *Context) Running() bool {
	return c != nil && c.state == Running
}

// Start begins the interval on first use and resumes it after a Yield.
// A nil context is a no-op.
func (c *Context) Start() {
	if c == nil {
		return
	}
	switch c.state {
	case NotStarted:
		h := c.eng.Start(c.label, c.id, c.parent)
		c.interval.Store(uint64(h))
		c.state = Running
	case Suspended:
		c.eng.Resume(c.Interval())
		c.state = Running
	default:
		contract.Violation("timer", "start of context %d %q in state %s", c.handle, c.label, c.state)
	}
}

// Yield suspends a running interval without ending it. A nil context is a
// no-op.
func (c *Context) Yield() {
	if c == nil {
		return
	}
	if c.state != Running {
		contract.Violation("timer", "yield of context %d %q in state %s", c.handle, c.label, c.state)
		return
	}
	c.eng.Yield(c.Interval())
	c.state = Suspended
}

// stop ends the interval if it was ever started and marks the context
// released. Suspended intervals are stopped too; Stop is the only engine
// call that closes one.
func (c *Context) stop() {
	if c.state == Running || c.state == Suspended {
		c.eng.Stop(c.Interval())
	}
	c.state = released
}
