package omp

import "strconv"

// Callback is the ompt_callbacks_t event-kind enumerant used with
// ompt_set_callback.
type Callback int32

const (
	CallbackThreadBegin       Callback = 1
	CallbackThreadEnd         Callback = 2
	CallbackParallelBegin     Callback = 3
	CallbackParallelEnd       Callback = 4
	CallbackTaskCreate        Callback = 5
	CallbackTaskSchedule      Callback = 6
	CallbackImplicitTask      Callback = 7
	CallbackTarget            Callback = 8
	CallbackTargetDataOp      Callback = 9
	CallbackTargetSubmit      Callback = 10
	CallbackControlTool       Callback = 11
	CallbackDeviceInitialize  Callback = 12
	CallbackDeviceFinalize    Callback = 13
	CallbackDeviceLoad        Callback = 14
	CallbackDeviceUnload      Callback = 15
	CallbackSyncRegionWait    Callback = 16
	CallbackMutexReleased     Callback = 17
	CallbackDependences       Callback = 18
	CallbackTaskDependence    Callback = 19
	CallbackWork              Callback = 20
	CallbackMaster            Callback = 21
	CallbackTargetMap         Callback = 22
	CallbackSyncRegion        Callback = 23
	CallbackLockInit          Callback = 24
	CallbackLockDestroy       Callback = 25
	CallbackMutexAcquire      Callback = 26
	CallbackMutexAcquired     Callback = 27
	CallbackNestLock          Callback = 28
	CallbackFlush             Callback = 29
	CallbackCancel            Callback = 30
	CallbackReduction         Callback = 31
	CallbackDispatch          Callback = 32
	callbackLimit             Callback = 33
)

// CallbackLimit bounds the enumerant values; tables indexed by Callback use
// it as their length.
const CallbackLimit = int(callbackLimit)

var callbackNames = [...]string{
	CallbackThreadBegin:      "thread_begin",
	CallbackThreadEnd:        "thread_end",
	CallbackParallelBegin:    "parallel_begin",
	CallbackParallelEnd:      "parallel_end",
	CallbackTaskCreate:       "task_create",
	CallbackTaskSchedule:     "task_schedule",
	CallbackImplicitTask:     "implicit_task",
	CallbackTarget:           "target",
	CallbackTargetDataOp:     "target_data_op",
	CallbackTargetSubmit:     "target_submit",
	CallbackControlTool:      "control_tool",
	CallbackDeviceInitialize: "device_initialize",
	CallbackDeviceFinalize:   "device_finalize",
	CallbackDeviceLoad:       "device_load",
	CallbackDeviceUnload:     "device_unload",
	CallbackSyncRegionWait:   "sync_region_wait",
	CallbackMutexReleased:    "mutex_released",
	CallbackDependences:      "dependences",
	CallbackTaskDependence:   "task_dependence",
	CallbackWork:             "work",
	CallbackMaster:           "master",
	CallbackTargetMap:        "target_map",
	CallbackSyncRegion:       "sync_region",
	CallbackLockInit:         "lock_init",
	CallbackLockDestroy:      "lock_destroy",
	CallbackMutexAcquire:     "mutex_acquire",
	CallbackMutexAcquired:    "mutex_acquired",
	CallbackNestLock:         "nest_lock",
	CallbackFlush:            "flush",
	CallbackCancel:           "cancel",
	CallbackReduction:        "reduction",
	CallbackDispatch:         "dispatch",
}

func (c Callback) String() string {
	if c > 0 && c < callbackLimit {
		return callbackNames[c]
	}
	return "callback(" + strconv.Itoa(int(c)) + ")"
}

// ParseCallback maps an event name such as "task_schedule" back to its
// enumerant.
func ParseCallback(name string) (Callback, bool) {
	for i, n := range callbackNames {
		if n == name && i > 0 {
			return Callback(i), true
		}
	}
	return 0, false
}

// Callback signatures. Frame pointers and other arguments the tool never
// reads are left out; every other argument keeps its runtime meaning.
type (
	ThreadBeginFunc   func(threadType ThreadType, thread *Data)
	ThreadEndFunc     func(thread *Data)
	ParallelBeginFunc func(encounteringTask *Data, parallel *Data, requestedParallelism uint32, flags int32, codeptr uintptr)
	ParallelEndFunc   func(parallel *Data, encounteringTask *Data, flags int32, codeptr uintptr)
	TaskCreateFunc    func(encounteringTask *Data, newTask *Data, flags TaskFlag, hasDependences bool, codeptr uintptr)
	TaskScheduleFunc  func(priorTask *Data, priorStatus TaskStatus, nextTask *Data)
	ImplicitTaskFunc  func(endpoint ScopeEndpoint, parallel *Data, task *Data, actualParallelism uint32, index uint32, flags TaskFlag)
	// SyncRegionFunc serves both sync_region and sync_region_wait.
	SyncRegionFunc func(kind SyncRegionKind, endpoint ScopeEndpoint, parallel *Data, task *Data, codeptr uintptr)
	WorkFunc       func(workType WorkType, endpoint ScopeEndpoint, parallel *Data, task *Data, count uint64, codeptr uintptr)
	MasterFunc     func(endpoint ScopeEndpoint, parallel *Data, task *Data, codeptr uintptr)
	FlushFunc      func(thread *Data, codeptr uintptr)
	CancelFunc     func(task *Data, flags CancelFlag, codeptr uintptr)
)

// Tool entry points handed to the runtime by ompt_start_tool.
type (
	InitializeFunc func(lookup LookupFunc, initialDeviceNum int, toolData *Data) bool
	FinalizeFunc   func(toolData *Data)
	StartToolFunc  func(ompVersion uint, runtimeVersion string) *StartToolResult
)

// StartToolResult is what a tool returns from ompt_start_tool. A nil result
// tells the runtime the tool declines to attach.
type StartToolResult struct {
	Initialize InitializeFunc
	Finalize   FinalizeFunc
	ToolData   Data
}
