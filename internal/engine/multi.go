package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"ompt_exporter/internal/maps"
)

// Multi forwards every call to a list of engines. Each engine keeps its own
// handle space; Multi hands out its own handles and translates.
type Multi struct {
	engines []Engine
	handles maps.ConcurrentMap[IntervalHandle, []IntervalHandle]
	next    atomic.Uint64
}

// NewMulti returns a Multi over engines, skipping nil entries.
func NewMulti(engines ...Engine) *Multi {
	m := &Multi{handles: maps.NewConcurrentMap[IntervalHandle, []IntervalHandle]()}
	for _, e := range engines {
		if e != nil {
			m.engines = append(m.engines, e)
		}
	}
	return m
}

// Engines returns the wrapped engines.
func (m *Multi) Engines() []Engine { return m.engines }

func (m *Multi) Init(programName string, nodeID, threadCount int) error {
	var errs []error
	for i, e := range m.engines {
		if err := e.Init(programName, nodeID, threadCount); err != nil {
			errs = append(errs, fmt.Errorf("engine %d init: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Finalize() error {
	var errs []error
	for i, e := range m.engines {
		if err := e.Finalize(); err != nil {
			errs = append(errs, fmt.Errorf("engine %d finalize: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Start(label string, id uint64, parent IntervalHandle) IntervalHandle {
	parents, _ := m.handles.Load(parent)
	subs := make([]IntervalHandle, len(m.engines))
	for i, e := range m.engines {
		var p IntervalHandle
		if i < len(parents) {
			p = parents[i]
		}
		subs[i] = e.Start(label, id, p)
	}
	h := IntervalHandle(m.next.Add(1))
	m.handles.Store(h, subs)
	return h
}

func (m *Multi) Resume(h IntervalHandle) {
	if subs, ok := m.handles.Load(h); ok {
		for i, e := range m.engines {
			e.Resume(subs[i])
		}
	}
}

func (m *Multi) Yield(h IntervalHandle) {
	if subs, ok := m.handles.Load(h); ok {
		for i, e := range m.engines {
			e.Yield(subs[i])
		}
	}
}

func (m *Multi) Stop(h IntervalHandle) {
	if subs, ok := m.handles.LoadAndDelete(h); ok {
		for i, e := range m.engines {
			e.Stop(subs[i])
		}
	}
}

func (m *Multi) SampleValue(name string, value float64) {
	for _, e := range m.engines {
		e.SampleValue(name, value)
	}
}

func (m *Multi) RegisterThread(id int, name string) {
	for _, e := range m.engines {
		e.RegisterThread(id, name)
	}
}

func (m *Multi) ExitThread(id int) {
	for _, e := range m.engines {
		e.ExitThread(id)
	}
}
