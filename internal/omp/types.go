// Package omp describes the boundary between an OMPT-style runtime and a
// tool: the per-entity data slot, the event enumerations with their
// runtime numeric values, the typed callback signatures and the
// capability lookup.
package omp

import "strconv"

// SupportedVersion is the _OPENMP value of the interface this tool targets.
const SupportedVersion uint = 201811

// Data is the storage cell the runtime attaches to every thread, parallel
// region and task, and hands back on every callback about that entity.
//
// Ptr belongs to the tool: it holds an arena handle, 0 meaning empty.
// Value carries the runtime's numeric id for regions and tasks (0 when the
// runtime has none); on thread slots the tool uses it as thread-local
// storage.
type Data struct {
	Value uint64
	Ptr   uint64
}

// ThreadType is ompt_thread_t.
type ThreadType int32

const (
	ThreadInitial ThreadType = 1
	ThreadWorker  ThreadType = 2
	ThreadOther   ThreadType = 3
	ThreadUnknown ThreadType = 4
)

func (t ThreadType) String() string {
	switch t {
	case ThreadInitial:
		return "initial"
	case ThreadWorker:
		return "worker"
	case ThreadOther:
		return "other"
	case ThreadUnknown:
		return "unknown"
	}
	return "thread(" + strconv.Itoa(int(t)) + ")"
}

// ScopeEndpoint is ompt_scope_endpoint_t.
type ScopeEndpoint int32

const (
	ScopeBegin    ScopeEndpoint = 1
	ScopeEnd      ScopeEndpoint = 2
	ScopeBeginEnd ScopeEndpoint = 3
)

func (e ScopeEndpoint) String() string {
	switch e {
	case ScopeBegin:
		return "begin"
	case ScopeEnd:
		return "end"
	case ScopeBeginEnd:
		return "beginend"
	}
	return "endpoint(" + strconv.Itoa(int(e)) + ")"
}

// TaskFlag is the ompt_task_flag_t bitset passed to task_create and
// implicit_task.
type TaskFlag uint32

const (
	TaskInitial    TaskFlag = 0x00000001
	TaskImplicit   TaskFlag = 0x00000002
	TaskExplicit   TaskFlag = 0x00000004
	TaskTarget     TaskFlag = 0x00000008
	TaskTaskwait   TaskFlag = 0x00000010
	TaskUndeferred TaskFlag = 0x08000000
	TaskUntied     TaskFlag = 0x10000000
	TaskFinal      TaskFlag = 0x20000000
	TaskMergeable  TaskFlag = 0x40000000
	TaskMerged     TaskFlag = 0x80000000
)

// Has reports whether every bit of f is set.
func (t TaskFlag) Has(f TaskFlag) bool { return t&f == f }

// TaskStatus is ompt_task_status_t, the reason the prior task left the
// thread in a task_schedule event.
type TaskStatus int32

const (
	TaskComplete         TaskStatus = 1
	TaskYield            TaskStatus = 2
	TaskCancel           TaskStatus = 3
	TaskDetach           TaskStatus = 4
	TaskEarlyFulfill     TaskStatus = 5
	TaskLateFulfill      TaskStatus = 6
	TaskSwitch           TaskStatus = 7
	TaskTaskwaitComplete TaskStatus = 8
)

func (s TaskStatus) String() string {
	switch s {
	case TaskComplete:
		return "complete"
	case TaskYield:
		return "yield"
	case TaskCancel:
		return "cancel"
	case TaskDetach:
		return "detach"
	case TaskEarlyFulfill:
		return "early_fulfill"
	case TaskLateFulfill:
		return "late_fulfill"
	case TaskSwitch:
		return "switch"
	case TaskTaskwaitComplete:
		return "taskwait_complete"
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// SyncRegionKind is ompt_sync_region_t.
type SyncRegionKind int32

const (
	SyncBarrier                  SyncRegionKind = 1
	SyncBarrierImplicit          SyncRegionKind = 2
	SyncBarrierExplicit          SyncRegionKind = 3
	SyncBarrierImplementation    SyncRegionKind = 4
	SyncTaskwait                 SyncRegionKind = 5
	SyncTaskgroup                SyncRegionKind = 6
	SyncReduction                SyncRegionKind = 7
	SyncBarrierImplicitWorkshare SyncRegionKind = 8
	SyncBarrierImplicitParallel  SyncRegionKind = 9
	SyncBarrierTeams             SyncRegionKind = 10
)

// WorkType is ompt_work_t.
type WorkType int32

const (
	WorkLoop           WorkType = 1
	WorkSections       WorkType = 2
	WorkSingleExecutor WorkType = 3
	WorkSingleOther    WorkType = 4
	WorkWorkshare      WorkType = 5
	WorkDistribute     WorkType = 6
	WorkTaskloop       WorkType = 7
	WorkScope          WorkType = 8
)

// CancelFlag is the ompt_cancel_flag_t bitset.
type CancelFlag int32

const (
	CancelParallel      CancelFlag = 0x01
	CancelSections      CancelFlag = 0x02
	CancelLoop          CancelFlag = 0x04
	CancelTaskgroup     CancelFlag = 0x08
	CancelActivated     CancelFlag = 0x10
	CancelDetected      CancelFlag = 0x20
	CancelDiscardedTask CancelFlag = 0x40
)

// SetResult is ompt_set_result_t, returned by ompt_set_callback.
type SetResult int32

const (
	SetError           SetResult = 0
	SetNever           SetResult = 1
	SetImpossible      SetResult = 2
	SetSometimes       SetResult = 3
	SetSometimesPaired SetResult = 4
	SetAlways          SetResult = 5
)

func (r SetResult) String() string {
	switch r {
	case SetError:
		return "error"
	case SetNever:
		return "never"
	case SetImpossible:
		return "impossible"
	case SetSometimes:
		return "sometimes"
	case SetSometimesPaired:
		return "sometimes_paired"
	case SetAlways:
		return "always"
	}
	return "result(" + strconv.Itoa(int(r)) + ")"
}

// State values reported by ompt_enumerate_states.
const (
	StateWorkSerial    = 0x000
	StateWorkParallel  = 0x001
	StateWorkReduction = 0x002
	StateWaitBarrier   = 0x010
	StateWaitTaskwait  = 0x020
	StateWaitTaskgroup = 0x021
	StateWaitMutex     = 0x040
	StateIdle          = 0x100
	StateOverhead      = 0x101
	StateUndefined     = 0x102
)
