// Package simrt is an in-process runtime that drives the tool interface
// the way an OpenMP runtime does: OS-thread-locked worker threads, teams,
// worksharing, tasks and the callbacks each of them emits.
package simrt

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/shirou/gopsutil/cpu"

	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/maps"
	"ompt_exporter/internal/omp"
	"ompt_exporter/internal/threads"
)

// Version is reported to ompt_start_tool.
const Version = "ompt_exporter simulated runtime 1.0"

// Config configures a Runtime.
type Config struct {
	// Threads is the default team size. Zero uses the processor count.
	Threads int
	// RejectCallbacks names callbacks ompt_set_callback refuses with
	// ompt_set_never, as a runtime that cannot deliver them would.
	RejectCallbacks []string
}

// Runtime owns the tool attachment, the thread pool and the callback table.
type Runtime struct {
	cfg     Config
	threads int
	start   omp.StartToolFunc
	log     log.Logger

	reject map[omp.Callback]bool

	mu        sync.RWMutex
	callbacks [omp.CallbackLimit]any

	tool         *omp.StartToolResult
	active       atomic.Bool
	finalizeOnce sync.Once
	ran          atomic.Bool

	uniqueID atomic.Uint64
	byTID    maps.ConcurrentMap[int, *Thread]

	poolMu  sync.Mutex
	idle    []*worker
	all     []*worker
	workers sync.WaitGroup
}

// New creates a runtime. start is the tool's ompt_start_tool and may be
// nil, in which case no tool is attached.
func New(cfg Config, start omp.StartToolFunc) (*Runtime, error) {
	rt := &Runtime{
		cfg:    cfg,
		start:  start,
		log:    logger.NewLoggerWithContext("simrt"),
		reject: make(map[omp.Callback]bool),
		byTID:  maps.NewConcurrentMap[int, *Thread](),
	}
	for _, name := range cfg.RejectCallbacks {
		cb, ok := omp.ParseCallback(name)
		if !ok {
			return nil, fmt.Errorf("unknown callback %q in reject list", name)
		}
		rt.reject[cb] = true
	}

	rt.threads = cfg.Threads
	if rt.threads <= 0 {
		rt.threads = numProcs()
	}
	return rt, nil
}

func numProcs() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// DefaultThreads is the team size used when Parallel is asked for zero
// threads.
func (rt *Runtime) DefaultThreads() int { return rt.threads }

// Run executes body on the initial thread and tears the runtime down
// afterwards: workers end, the initial thread ends, the tool is finalized.
// A Runtime runs once.
func (rt *Runtime) Run(body func(th *Thread)) (err error) {
	if !rt.ran.CompareAndSwap(false, true) {
		return errors.New("simrt: runtime already ran")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		th := rt.newThread(omp.ThreadInitial)
		rt.attach()
		rt.threadBegin(th)
		th.beginInitialTask()

		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("simrt: workload panicked: %v", r)
				}
			}()
			body(th)
		}()

		th.endInitialTask()
		rt.stopWorkers()
		rt.threadEnd(th)
		rt.forgetThread(th)
		rt.finalize()
	}()
	<-done
	return err
}

// attach runs the ompt_start_tool handshake on the initial thread.
func (rt *Runtime) attach() {
	if rt.start == nil {
		return
	}
	res := rt.start(omp.SupportedVersion, Version)
	if res == nil {
		rt.log.Info().Msg("No tool attached")
		return
	}
	if res.Initialize == nil || !res.Initialize(rt.Lookup, 0, &res.ToolData) {
		rt.log.Warn().Msg("Tool initialization failed, running without a tool")
		return
	}
	rt.tool = res
	rt.active.Store(true)
}

// finalize delivers ompt_finalize once. No callback is dispatched after
// it starts.
func (rt *Runtime) finalize() {
	rt.finalizeOnce.Do(func() {
		rt.active.Store(false)
		if rt.tool != nil && rt.tool.Finalize != nil {
			rt.tool.Finalize(&rt.tool.ToolData)
		}
	})
}

func (rt *Runtime) nextID() uint64 { return rt.uniqueID.Add(1) }

// current returns the simulated thread bound to the calling OS thread.
func (rt *Runtime) current() *Thread {
	th, _ := rt.byTID.Load(threads.OSThreadID())
	return th
}

func (rt *Runtime) callback(cb omp.Callback) any {
	if !rt.active.Load() {
		return nil
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.callbacks[cb]
}

func is[T any](fn any) bool {
	_, ok := fn.(T)
	return ok
}

// callbackTypes lists the callbacks this runtime can deliver, with the
// entry point type each one must be registered with.
var callbackTypes = map[omp.Callback]func(any) bool{
	omp.CallbackThreadBegin:    is[omp.ThreadBeginFunc],
	omp.CallbackThreadEnd:      is[omp.ThreadEndFunc],
	omp.CallbackParallelBegin:  is[omp.ParallelBeginFunc],
	omp.CallbackParallelEnd:    is[omp.ParallelEndFunc],
	omp.CallbackTaskCreate:     is[omp.TaskCreateFunc],
	omp.CallbackTaskSchedule:   is[omp.TaskScheduleFunc],
	omp.CallbackImplicitTask:   is[omp.ImplicitTaskFunc],
	omp.CallbackSyncRegionWait: is[omp.SyncRegionFunc],
	omp.CallbackSyncRegion:     is[omp.SyncRegionFunc],
	omp.CallbackWork:           is[omp.WorkFunc],
	omp.CallbackMaster:         is[omp.MasterFunc],
	omp.CallbackFlush:          is[omp.FlushFunc],
	omp.CallbackCancel:         is[omp.CancelFunc],
}

// SetCallback is ompt_set_callback. A nil fn unregisters the callback.
func (rt *Runtime) SetCallback(cb omp.Callback, fn any) omp.SetResult {
	if cb <= 0 || int(cb) >= omp.CallbackLimit {
		return omp.SetError
	}
	check, ok := callbackTypes[cb]
	if !ok || rt.reject[cb] {
		return omp.SetNever
	}
	if fn != nil && !check(fn) {
		rt.log.Warn().Str("callback", cb.String()).Str("type", fmt.Sprintf("%T", fn)).Msg("Callback registered with the wrong type")
		return omp.SetError
	}
	rt.mu.Lock()
	rt.callbacks[cb] = fn
	rt.mu.Unlock()
	return omp.SetAlways
}

// GetCallback is ompt_get_callback.
func (rt *Runtime) GetCallback(cb omp.Callback) (any, bool) {
	if cb <= 0 || int(cb) >= omp.CallbackLimit {
		return nil, false
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	fn := rt.callbacks[cb]
	return fn, fn != nil
}

type enumEntry struct {
	value int
	name  string
}

var stateTable = []enumEntry{
	{omp.StateWorkSerial, "ompt_state_work_serial"},
	{omp.StateWorkParallel, "ompt_state_work_parallel"},
	{omp.StateWorkReduction, "ompt_state_work_reduction"},
	{omp.StateWaitBarrier, "ompt_state_wait_barrier"},
	{omp.StateWaitTaskwait, "ompt_state_wait_taskwait"},
	{omp.StateWaitTaskgroup, "ompt_state_wait_taskgroup"},
	{omp.StateWaitMutex, "ompt_state_wait_mutex"},
	{omp.StateIdle, "ompt_state_idle"},
	{omp.StateOverhead, "ompt_state_overhead"},
}

var mutexImplTable = []enumEntry{
	{1, "mutex_impl_mutex"},
	{2, "mutex_impl_spin"},
}

// enumerate walks table the ompt_enumerate_* way: start yields the first
// entry, any other value yields the entry after it.
func enumerate(table []enumEntry, start, current int) (int, string, bool) {
	if current == start {
		return table[0].value, table[0].name, true
	}
	for i, e := range table[:len(table)-1] {
		if e.value == current {
			next := table[i+1]
			return next.value, next.name, true
		}
	}
	return 0, "", false
}

// Lookup is the ompt_function_lookup handed to the tool.
func (rt *Runtime) Lookup(name string) any {
	switch name {
	case "ompt_finalize_tool":
		return omp.FinalizeToolFunc(rt.finalize)
	case "ompt_set_callback":
		return omp.SetCallbackFunc(rt.SetCallback)
	case "ompt_get_callback":
		return omp.GetCallbackFunc(rt.GetCallback)
	case "ompt_get_unique_id":
		return omp.GetUniqueIDFunc(rt.nextID)
	case "ompt_get_num_procs":
		return omp.GetNumProcsFunc(numProcs)
	case "ompt_get_num_devices":
		return omp.GetNumDevicesFunc(func() int { return 0 })
	case "ompt_enumerate_states":
		return omp.EnumerateStatesFunc(func(current int) (int, string, bool) {
			return enumerate(stateTable, omp.StateUndefined, current)
		})
	case "ompt_enumerate_mutex_impls":
		return omp.EnumerateMutexImplsFunc(func(current int) (int, string, bool) {
			return enumerate(mutexImplTable, 0, current)
		})
	}

	// The rest answer for the calling thread, which needs OS thread ids.
	if !threads.OSThreadIDSupported {
		return nil
	}
	switch name {
	case "ompt_get_thread_data":
		return omp.GetThreadDataFunc(func() *omp.Data {
			if th := rt.current(); th != nil {
				return &th.data
			}
			return nil
		})
	case "ompt_get_parallel_info":
		return omp.GetParallelInfoFunc(func(level int) (*omp.Data, int, bool) {
			th := rt.current()
			if th == nil {
				return nil, 0, false
			}
			tm := th.team
			for ; tm != nil && level > 0; level-- {
				tm = tm.parent
			}
			if tm == nil {
				return nil, 0, false
			}
			return &tm.parallel, tm.size, true
		})
	case "ompt_get_task_info":
		return omp.GetTaskInfoFunc(func(level int) (omp.TaskInfo, bool) {
			th := rt.current()
			if th == nil {
				return omp.TaskInfo{}, false
			}
			t := th.task
			for ; t != nil && level > 0; level-- {
				t = t.parent
			}
			if t == nil {
				return omp.TaskInfo{}, false
			}
			return omp.TaskInfo{Flags: t.flags, Task: &t.data, Parallel: &t.team.parallel, ThreadNum: th.num}, true
		})
	}
	return nil
}

// Event emission. Each helper is a no-op when the tool has not registered
// the callback.

func (rt *Runtime) threadBegin(th *Thread) {
	if fn, ok := rt.callback(omp.CallbackThreadBegin).(omp.ThreadBeginFunc); ok {
		fn(th.kind, &th.data)
	}
}

func (rt *Runtime) threadEnd(th *Thread) {
	if fn, ok := rt.callback(omp.CallbackThreadEnd).(omp.ThreadEndFunc); ok {
		fn(&th.data)
	}
}

func (rt *Runtime) parallelBegin(encountering, parallel *omp.Data, requested uint32, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackParallelBegin).(omp.ParallelBeginFunc); ok {
		fn(encountering, parallel, requested, parallelInvokerProgram, codeptr)
	}
}

func (rt *Runtime) parallelEnd(parallel, encountering *omp.Data, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackParallelEnd).(omp.ParallelEndFunc); ok {
		fn(parallel, encountering, parallelInvokerProgram, codeptr)
	}
}

func (rt *Runtime) taskCreate(encountering, task *omp.Data, flags omp.TaskFlag, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackTaskCreate).(omp.TaskCreateFunc); ok {
		fn(encountering, task, flags, false, codeptr)
	}
}

func (rt *Runtime) taskSchedule(prior *omp.Data, status omp.TaskStatus, next *omp.Data) {
	if fn, ok := rt.callback(omp.CallbackTaskSchedule).(omp.TaskScheduleFunc); ok {
		fn(prior, status, next)
	}
}

func (rt *Runtime) implicitTask(endpoint omp.ScopeEndpoint, parallel, task *omp.Data, parallelism, index uint32, flags omp.TaskFlag) {
	if fn, ok := rt.callback(omp.CallbackImplicitTask).(omp.ImplicitTaskFunc); ok {
		fn(endpoint, parallel, task, parallelism, index, flags)
	}
}

func (rt *Runtime) syncRegion(kind omp.SyncRegionKind, endpoint omp.ScopeEndpoint, parallel, task *omp.Data, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackSyncRegion).(omp.SyncRegionFunc); ok {
		fn(kind, endpoint, parallel, task, codeptr)
	}
}

func (rt *Runtime) syncRegionWait(kind omp.SyncRegionKind, endpoint omp.ScopeEndpoint, parallel, task *omp.Data, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackSyncRegionWait).(omp.SyncRegionFunc); ok {
		fn(kind, endpoint, parallel, task, codeptr)
	}
}

func (rt *Runtime) work(wt omp.WorkType, endpoint omp.ScopeEndpoint, parallel, task *omp.Data, count uint64, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackWork).(omp.WorkFunc); ok {
		fn(wt, endpoint, parallel, task, count, codeptr)
	}
}

func (rt *Runtime) master(endpoint omp.ScopeEndpoint, parallel, task *omp.Data, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackMaster).(omp.MasterFunc); ok {
		fn(endpoint, parallel, task, codeptr)
	}
}

func (rt *Runtime) flush(thread *omp.Data, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackFlush).(omp.FlushFunc); ok {
		fn(thread, codeptr)
	}
}

func (rt *Runtime) cancel(task *omp.Data, flags omp.CancelFlag, codeptr uintptr) {
	if fn, ok := rt.callback(omp.CallbackCancel).(omp.CancelFunc); ok {
		fn(task, flags, codeptr)
	}
}

// parallelInvokerProgram is ompt_parallel_invoker_program: the master
// thread runs its implicit task itself.
const parallelInvokerProgram int32 = 0x04
