// Package enginetest provides an engine that records every call, for
// asserting the exact interval protocol the adapter produced.
package enginetest

import (
	"fmt"
	"sync"

	"ompt_exporter/internal/engine"
)

// Op names a recorded engine call.
type Op string

const (
	OpInit           Op = "init"
	OpFinalize       Op = "finalize"
	OpStart          Op = "start"
	OpResume         Op = "resume"
	OpYield          Op = "yield"
	OpStop           Op = "stop"
	OpSample         Op = "sample"
	OpRegisterThread Op = "register_thread"
	OpExitThread     Op = "exit_thread"
)

// Call is one recorded engine call. Only the fields meaningful for Op are
// set.
type Call struct {
	Op     Op
	Label  string
	ID     uint64
	Handle engine.IntervalHandle
	Parent engine.IntervalHandle
	Name   string
	Value  float64
	Thread int
}

type intervalState int

const (
	running intervalState = iota + 1
	suspended
	stopped
)

// Recorder implements engine.Engine. Protocol errors (resuming a running
// interval, stopping twice) are collected in Errors instead of failing, so
// tests can assert on them.
type Recorder struct {
	// InitErr and FinalizeErr are returned by Init and Finalize.
	InitErr     error
	FinalizeErr error

	mu        sync.Mutex
	calls     []Call
	next      engine.IntervalHandle
	intervals map[engine.IntervalHandle]intervalState
	labels    map[engine.IntervalHandle]string
	parents   map[engine.IntervalHandle]engine.IntervalHandle
	errors    []string
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{
		intervals: make(map[engine.IntervalHandle]intervalState),
		labels:    make(map[engine.IntervalHandle]string),
		parents:   make(map[engine.IntervalHandle]engine.IntervalHandle),
	}
}

func (r *Recorder) record(c Call) {
	r.calls = append(r.calls, c)
}

func (r *Recorder) errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *Recorder) Init(programName string, nodeID, threadCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpInit, Name: programName, ID: uint64(nodeID), Value: float64(threadCount)})
	return r.InitErr
}

func (r *Recorder) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpFinalize})
	return r.FinalizeErr
}

func (r *Recorder) Start(label string, id uint64, parent engine.IntervalHandle) engine.IntervalHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.intervals[h] = running
	r.labels[h] = label
	r.parents[h] = parent
	r.record(Call{Op: OpStart, Label: label, ID: id, Handle: h, Parent: parent})
	return h
}

func (r *Recorder) Resume(h engine.IntervalHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.intervals[h] != suspended {
		r.errorf("resume of interval %d in state %d", h, r.intervals[h])
	}
	r.intervals[h] = running
	r.record(Call{Op: OpResume, Handle: h, Label: r.labels[h]})
}

func (r *Recorder) Yield(h engine.IntervalHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.intervals[h] != running {
		r.errorf("yield of interval %d in state %d", h, r.intervals[h])
	}
	r.intervals[h] = suspended
	r.record(Call{Op: OpYield, Handle: h, Label: r.labels[h]})
}

func (r *Recorder) Stop(h engine.IntervalHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.intervals[h]; s != running && s != suspended {
		r.errorf("stop of interval %d in state %d", h, s)
	}
	r.intervals[h] = stopped
	r.record(Call{Op: OpStop, Handle: h, Label: r.labels[h]})
}

func (r *Recorder) SampleValue(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpSample, Name: name, Value: value})
}

func (r *Recorder) RegisterThread(id int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpRegisterThread, Thread: id, Name: name})
}

func (r *Recorder) ExitThread(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Op: OpExitThread, Thread: id})
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Filter returns the recorded calls with the given op.
func (r *Recorder) Filter(op Op) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of recorded calls with the given op.
func (r *Recorder) Count(op Op) int {
	return len(r.Filter(op))
}

// Samples returns the sum of values recorded per sample name.
func (r *Recorder) Samples() map[string]float64 {
	out := make(map[string]float64)
	for _, c := range r.Filter(OpSample) {
		out[c.Name] += c.Value
	}
	return out
}

// Open returns the intervals that were started and never stopped.
func (r *Recorder) Open() []engine.IntervalHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []engine.IntervalHandle
	for h := engine.IntervalHandle(1); h <= r.next; h++ {
		if s := r.intervals[h]; s == running || s == suspended {
			open = append(open, h)
		}
	}
	return open
}

// Parent returns the parent recorded when h was started.
func (r *Recorder) Parent(h engine.IntervalHandle) engine.IntervalHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parents[h]
}

// Label returns the label h was started with.
func (r *Recorder) Label(h engine.IntervalHandle) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labels[h]
}

// Errors returns protocol errors seen so far.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Reset drops all recorded calls and intervals.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.errors = nil
	r.next = 0
	r.intervals = make(map[engine.IntervalHandle]intervalState)
	r.labels = make(map[engine.IntervalHandle]string)
	r.parents = make(map[engine.IntervalHandle]engine.IntervalHandle)
}

var _ engine.Engine = (*Recorder)(nil)
