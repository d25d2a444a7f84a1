package timer

import (
	"sync/atomic"

	"ompt_exporter/internal/contract"
	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/maps"
	"ompt_exporter/internal/omp"
)

// synthesizedIDBit marks ids made up by the arena, keeping them disjoint
// from runtime-assigned ids.
const synthesizedIDBit = uint64(1) << 63

// Arena owns every live Context. Slots store handles into it.
type Arena struct {
	contexts maps.ConcurrentMap[Handle, *Context]
	next     atomic.Uint64
	synth    atomic.Uint64
	uniqueID omp.GetUniqueIDFunc
	eng      engine.Engine

	created   atomic.Uint64
	finalized atomic.Uint64
}

// NewArena returns an arena whose contexts report to eng. uniqueID is the
// runtime's ompt_get_unique_id and may be nil.
func NewArena(eng engine.Engine, uniqueID omp.GetUniqueIDFunc) *Arena {
	return &Arena{
		contexts: maps.NewConcurrentMap[Handle, *Context](),
		uniqueID: uniqueID,
		eng:      eng,
	}
}

// Lookup returns the context on top of slot, or nil for a nil or empty
// slot.
func (a *Arena) Lookup(slot *omp.Data) *Context {
	if slot == nil || slot.Ptr == 0 {
		return nil
	}
	c, ok := a.contexts.Load(Handle(slot.Ptr))
	if !ok {
		contract.Violation("timer", "slot holds unknown handle %d", slot.Ptr)
		return nil
	}
	return c
}

// Push creates a context labeled label on top of slot and starts it when
// autoStart is set. Its id is the slot's Value, or a synthesized one when
// the runtime left it zero.
//
// The parent interval is the one on top of parentSlot, read before the
// push, so parentSlot may be slot itself. When parentSlot is empty the
// context nests under the slot's previous occupant instead. A nil slot
// has nowhere to keep the context, so Push returns nil.
func (a *Arena) Push(label string, slot, parentSlot *omp.Data, autoStart bool) *Context {
	if slot == nil {
		return nil
	}

	c := &Context{
		handle: Handle(a.next.Add(1)),
		label:  label,
		id:     slot.Value,
		prev:   Handle(slot.Ptr),
		eng:    a.eng,
	}
	if c.id == 0 {
		c.id = a.synthesizeID()
	}
	if p := a.Lookup(parentSlot); p != nil {
		c.parent = p.Interval()
	} else if c.prev != 0 {
		c.parent = a.Lookup(slot).Interval()
	}

	a.contexts.Store(c.handle, c)
	slot.Ptr = uint64(c.handle)
	a.created.Add(1)

	if autoStart {
		c.Start()
	}
	return c
}

func (a *Arena) synthesizeID() uint64 {
	if a.uniqueID != nil {
		if id := a.uniqueID(); id != 0 {
			return id
		}
	}
	return synthesizedIDBit | a.synth.Add(1)
}

// Finalize stops the context on top of slot, releases it and rewinds the
// slot to the previous occupant. It reports whether a context was there.
func (a *Arena) Finalize(slot *omp.Data) bool {
	if slot == nil || slot.Ptr == 0 {
		return false
	}
	h := Handle(slot.Ptr)
	c, ok := a.contexts.LoadAndDelete(h)
	if !ok {
		contract.Violation("timer", "double finalize of context %d", h)
		return false
	}
	c.stop()
	slot.Ptr = uint64(c.prev)
	a.finalized.Add(1)
	return true
}

// Live returns the number of contexts not yet finalized.
func (a *Arena) Live() int { return a.contexts.Len() }

// Created returns the number of contexts pushed so far.
func (a *Arena) Created() uint64 { return a.created.Load() }

// Finalized returns the number of contexts released so far.
func (a *Arena) Finalized() uint64 { return a.finalized.Load() }
