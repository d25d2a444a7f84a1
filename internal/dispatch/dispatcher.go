// Package dispatch implements the runtime callbacks. Each event is turned
// into a Timing Context transition on the slots it carries, or into a
// single engine sample.
package dispatch

import (
	"sync/atomic"

	"github.com/phuslu/log"

	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/labels"
	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/omp"
	"ompt_exporter/internal/threads"
	"ompt_exporter/internal/timer"
)

// Dispatcher owns the callback entry points handed to the runtime.
//
// Callbacks arrive concurrently from every runtime thread. The dispatcher
// itself keeps only atomic counters; per-entity state lives in the arena.
type Dispatcher struct {
	arena   *timer.Arena
	threads *threads.Registry
	labels  *labels.Taxonomy
	eng     engine.Engine

	getThreadData omp.GetThreadDataFunc

	stopped       atomic.Bool
	counts        [omp.CallbackLimit]atomic.Uint64
	dropped       atomic.Uint64
	unknownStatus atomic.Uint64
	unmatchedEnds atomic.Uint64

	log log.Logger
	hot *logger.Throttled
}

// New wires a dispatcher. caps may be nil; without ompt_get_thread_data,
// threads are only registered by thread_begin.
func New(eng engine.Engine, tax *labels.Taxonomy, reg *threads.Registry, arena *timer.Arena, caps *omp.Capabilities) *Dispatcher {
	d := &Dispatcher{
		arena:   arena,
		threads: reg,
		labels:  tax,
		eng:     eng,
		log:     logger.NewLoggerWithContext("dispatch"),
		hot:     logger.NewThrottledLoggerWithContext("dispatch"),
	}
	if caps != nil {
		d.getThreadData = caps.GetThreadData
	}
	return d
}

// Stop makes every later callback a counted no-op. The runtime may keep
// delivering events for a while after the engine is gone.
func (d *Dispatcher) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		d.log.Debug().Uint64("dropped_so_far", d.dropped.Load()).Msg("Dispatcher stopped")
	}
}

// Stopped reports whether Stop was called.
func (d *Dispatcher) Stopped() bool { return d.stopped.Load() }

// accept counts the event and reports whether it should be handled.
func (d *Dispatcher) accept(cb omp.Callback) bool {
	if d.stopped.Load() {
		d.dropped.Add(1)
		return false
	}
	d.counts[cb].Add(1)
	return true
}

// ensureThread gives the calling thread an id if no thread_begin did.
func (d *Dispatcher) ensureThread() {
	if d.getThreadData == nil {
		return
	}
	if slot := d.getThreadData(); slot != nil && threads.ID(slot) < 0 {
		id := d.threads.Assign(slot)
		d.log.Debug().Int("thread_id", id).Msg("Thread seen before thread_begin")
	}
}

// begin pushes and starts a context on own, parented to parent.
func (d *Dispatcher) begin(label string, own, parent *omp.Data) {
	d.arena.Push(label, own, parent, true)
}

// enclosing picks the parent slot for a construct running inside the task
// on task: the task's current context, or the parallel region while the
// task slot is still empty.
func enclosing(task, parallel *omp.Data) *omp.Data {
	if task != nil && task.Ptr != 0 {
		return task
	}
	return parallel
}

// end finalizes the context on own. An empty slot is counted, not treated
// as a violation: a cancel may already have released it.
func (d *Dispatcher) end(cb omp.Callback, own *omp.Data) {
	if own == nil {
		return
	}
	if !d.arena.Finalize(own) {
		d.unmatchedEnds.Add(1)
		d.hot.Warn().Str("event", cb.String()).Msg("End event on an empty slot")
	}
}

// scoped runs the begin or end side, or both for a beginend endpoint.
func (d *Dispatcher) scoped(cb omp.Callback, endpoint omp.ScopeEndpoint, label func() string, own, parent *omp.Data, onBegin func(label string)) {
	switch endpoint {
	case omp.ScopeBegin, omp.ScopeBeginEnd:
		l := label()
		d.begin(l, own, parent)
		if onBegin != nil {
			onBegin(l)
		}
		if endpoint == omp.ScopeBeginEnd {
			d.end(cb, own)
		}
	case omp.ScopeEnd:
		d.end(cb, own)
	default:
		d.hot.Warn().Str("event", cb.String()).Str("endpoint", endpoint.String()).Msg("Unknown scope endpoint")
	}
}

func (d *Dispatcher) ThreadBegin(tt omp.ThreadType, thread *omp.Data) {
	if !d.accept(omp.CallbackThreadBegin) {
		return
	}
	d.threads.Register(tt, thread)
}

func (d *Dispatcher) ThreadEnd(thread *omp.Data) {
	if !d.accept(omp.CallbackThreadEnd) {
		return
	}
	d.threads.Exit(thread)
}

func (d *Dispatcher) ParallelBegin(encounteringTask, parallel *omp.Data, requested uint32, flags int32, codeptr uintptr) {
	if !d.accept(omp.CallbackParallelBegin) {
		return
	}
	d.ensureThread()
	d.begin(d.labels.ParallelRegion(codeptr), parallel, encounteringTask)
}

func (d *Dispatcher) ParallelEnd(parallel, encounteringTask *omp.Data, flags int32, codeptr uintptr) {
	if !d.accept(omp.CallbackParallelEnd) {
		return
	}
	d.end(omp.CallbackParallelEnd, parallel)
}

// TaskCreate allocates the task's context without starting it; the
// runtime may run the task much later, on any thread.
func (d *Dispatcher) TaskCreate(encounteringTask, newTask *omp.Data, flags omp.TaskFlag, hasDependences bool, codeptr uintptr) {
	if !d.accept(omp.CallbackTaskCreate) {
		return
	}
	d.ensureThread()
	d.arena.Push(d.labels.TaskCreate(flags, codeptr), newTask, encounteringTask, false)
}

// TaskSchedule moves the prior task out (suspending or finalizing it by
// status) and the next task in. Either slot may be nil or empty.
func (d *Dispatcher) TaskSchedule(priorTask *omp.Data, priorStatus omp.TaskStatus, nextTask *omp.Data) {
	if !d.accept(omp.CallbackTaskSchedule) {
		return
	}
	d.ensureThread()

	if prior := d.arena.Lookup(priorTask); prior != nil {
		switch priorStatus {
		case omp.TaskYield, omp.TaskDetach, omp.TaskSwitch:
			prior.Yield()
		case omp.TaskComplete, omp.TaskCancel, omp.TaskEarlyFulfill, omp.TaskLateFulfill:
			d.arena.Finalize(priorTask)
		default:
			d.unknownStatus.Add(1)
			d.hot.Warn().Str("status", priorStatus.String()).Str("task", prior.Label()).Msg("Unrecognized prior task status, finalizing task")
			d.arena.Finalize(priorTask)
		}
	}

	if next := d.arena.Lookup(nextTask); next != nil && !next.Running() {
		next.Start()
	}
}

func (d *Dispatcher) ImplicitTask(endpoint omp.ScopeEndpoint, parallel, task *omp.Data, actualParallelism, index uint32, flags omp.TaskFlag) {
	if !d.accept(omp.CallbackImplicitTask) {
		return
	}
	d.ensureThread()
	d.scoped(omp.CallbackImplicitTask, endpoint, func() string { return d.labels.ImplicitTask(flags) }, task, parallel, nil)
}

func (d *Dispatcher) SyncRegion(kind omp.SyncRegionKind, endpoint omp.ScopeEndpoint, parallel, task *omp.Data, codeptr uintptr) {
	if !d.accept(omp.CallbackSyncRegion) {
		return
	}
	d.ensureThread()
	d.scoped(omp.CallbackSyncRegion, endpoint, func() string { return d.labels.SyncRegion(kind, codeptr) }, task, enclosing(task, parallel), nil)
}

func (d *Dispatcher) SyncRegionWait(kind omp.SyncRegionKind, endpoint omp.ScopeEndpoint, parallel, task *omp.Data, codeptr uintptr) {
	if !d.accept(omp.CallbackSyncRegionWait) {
		return
	}
	d.ensureThread()
	d.scoped(omp.CallbackSyncRegionWait, endpoint, func() string { return d.labels.SyncRegionWait(kind, codeptr) }, task, enclosing(task, parallel), nil)
}

// Work times the worksharing region and samples its count under
// "<count type>: <label>".
func (d *Dispatcher) Work(wt omp.WorkType, endpoint omp.ScopeEndpoint, parallel, task *omp.Data, count uint64, codeptr uintptr) {
	if !d.accept(omp.CallbackWork) {
		return
	}
	d.ensureThread()
	d.scoped(omp.CallbackWork, endpoint, func() string { return d.labels.Work(wt, codeptr) }, task, enclosing(task, parallel), func(label string) {
		d.eng.SampleValue(d.labels.WorkSample(wt, label), float64(count))
	})
}

func (d *Dispatcher) Master(endpoint omp.ScopeEndpoint, parallel, task *omp.Data, codeptr uintptr) {
	if !d.accept(omp.CallbackMaster) {
		return
	}
	d.ensureThread()
	d.scoped(omp.CallbackMaster, endpoint, func() string { return d.labels.Master(codeptr) }, task, enclosing(task, parallel), nil)
}

func (d *Dispatcher) Flush(thread *omp.Data, codeptr uintptr) {
	if !d.accept(omp.CallbackFlush) {
		return
	}
	d.ensureThread()
	d.eng.SampleValue(d.labels.Flush(codeptr), 1)
}

// Cancel samples every flag set and finalizes the cancelled task's
// context.
func (d *Dispatcher) Cancel(task *omp.Data, flags omp.CancelFlag, codeptr uintptr) {
	if !d.accept(omp.CallbackCancel) {
		return
	}
	d.ensureThread()
	for _, name := range d.labels.Cancel(flags, codeptr) {
		d.eng.SampleValue(name, 1)
	}
	d.arena.Finalize(task)
}

// Callback returns the entry point for cb, typed the way ompt_set_callback
// expects it, or false when the dispatcher does not handle cb.
func (d *Dispatcher) Callback(cb omp.Callback) (any, bool) {
	switch cb {
	case omp.CallbackThreadBegin:
		return omp.ThreadBeginFunc(d.ThreadBegin), true
	case omp.CallbackThreadEnd:
		return omp.ThreadEndFunc(d.ThreadEnd), true
	case omp.CallbackParallelBegin:
		return omp.ParallelBeginFunc(d.ParallelBegin), true
	case omp.CallbackParallelEnd:
		return omp.ParallelEndFunc(d.ParallelEnd), true
	case omp.CallbackTaskCreate:
		return omp.TaskCreateFunc(d.TaskCreate), true
	case omp.CallbackTaskSchedule:
		return omp.TaskScheduleFunc(d.TaskSchedule), true
	case omp.CallbackImplicitTask:
		return omp.ImplicitTaskFunc(d.ImplicitTask), true
	case omp.CallbackSyncRegion:
		return omp.SyncRegionFunc(d.SyncRegion), true
	case omp.CallbackSyncRegionWait:
		return omp.SyncRegionFunc(d.SyncRegionWait), true
	case omp.CallbackWork:
		return omp.WorkFunc(d.Work), true
	case omp.CallbackMaster:
		return omp.MasterFunc(d.Master), true
	case omp.CallbackFlush:
		return omp.FlushFunc(d.Flush), true
	case omp.CallbackCancel:
		return omp.CancelFunc(d.Cancel), true
	}
	return nil, false
}

// EventCounts returns the number of handled events per callback, skipping
// callbacks that never fired.
func (d *Dispatcher) EventCounts() map[omp.Callback]uint64 {
	out := make(map[omp.Callback]uint64)
	for i := range d.counts {
		if n := d.counts[i].Load(); n > 0 {
			out[omp.Callback(i)] = n
		}
	}
	return out
}

func (d *Dispatcher) Dropped() uint64            { return d.dropped.Load() }
func (d *Dispatcher) UnknownStatuses() uint64    { return d.unknownStatus.Load() }
func (d *Dispatcher) UnmatchedEnds() uint64      { return d.unmatchedEnds.Load() }
func (d *Dispatcher) Arena() *timer.Arena        { return d.arena }
func (d *Dispatcher) Threads() *threads.Registry { return d.threads }

// LogHandlerCounts logs one line with the count of every callback that
// fired, plus the dispatcher's own bookkeeping.
func (d *Dispatcher) LogHandlerCounts() {
	e := d.log.Info()
	for cb, n := range d.EventCounts() {
		e = e.Uint64(cb.String(), n)
	}
	e.Uint64("dropped", d.dropped.Load()).
		Uint64("unknown_status", d.unknownStatus.Load()).
		Uint64("unmatched_ends", d.unmatchedEnds.Load()).
		Uint64("suppressed_warnings", d.hot.Suppressed()).
		Int("live_contexts", d.arena.Live()).
		Msg("Event counts")
}
