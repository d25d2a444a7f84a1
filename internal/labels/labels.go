// Package labels turns runtime event kinds, flags and call-site addresses
// into the interval labels and sample names handed to the engine.
//
// Every label is a pure function of its inputs: a Subkind chosen from the
// event, looked up in a fixed table, prefixed with the runtime name and
// optionally suffixed with the unresolved call-site address.
package labels

import (
	"strconv"

	"ompt_exporter/internal/omp"
)

// DefaultPrefix is the runtime name placed in front of every label.
const DefaultPrefix = "OpenMP"

// Subkind is the closed set of base labels.
type Subkind uint8

const (
	Unknown Subkind = iota

	InitialThread
	WorkerThread
	OtherThread
	UnknownThread

	ParallelRegion

	InitialTask
	ImplicitTask
	ExplicitTask
	TargetTask
	UndeferredTask
	UntiedTask
	FinalTask
	MergeableTask
	MergedTask

	Barrier
	ImplicitBarrier
	ExplicitBarrier
	BarrierImplementation
	TaskSync
	TaskGroup
	Reduction
	ImplicitWorkshareBarrier
	ImplicitParallelBarrier
	TeamsBarrier
	UnknownSync

	WorkLoop
	WorkSections
	WorkSingleExecutor
	WorkSingleOther
	WorkWorkshare
	WorkDistribute
	WorkTaskloop
	WorkScope
	WorkUnknown

	Master
	Flush

	CancelParallel
	CancelSections
	CancelDo
	CancelTaskgroup
	CancelActivated
	CancelDetected
	CancelDiscardedTask

	numSubkinds
)

var baseLabels = [numSubkinds]string{
	Unknown: "Unknown",

	InitialThread: "Initial Thread",
	WorkerThread:  "Worker Thread",
	OtherThread:   "Other Thread",
	UnknownThread: "Unknown Thread",

	ParallelRegion: "Parallel Region",

	InitialTask:    "Initial Task",
	ImplicitTask:   "Implicit Task",
	ExplicitTask:   "Explicit Task",
	TargetTask:     "Target Task",
	UndeferredTask: "Undeferred Task",
	UntiedTask:     "Untied Task",
	FinalTask:      "Final Task",
	MergeableTask:  "Mergeable Task",
	MergedTask:     "Merged Task",

	Barrier:                  "Barrier",
	ImplicitBarrier:          "Implicit Barrier",
	ExplicitBarrier:          "Explicit Barrier",
	BarrierImplementation:    "Barrier Implementation",
	TaskSync:                 "Task",
	TaskGroup:                "Task Group",
	Reduction:                "Reduction",
	ImplicitWorkshareBarrier: "Implicit Workshare Barrier",
	ImplicitParallelBarrier:  "Implicit Parallel Barrier",
	TeamsBarrier:             "Teams Barrier",
	UnknownSync:              "Unknown",

	WorkLoop:           "Work Loop",
	WorkSections:       "Work Sections",
	WorkSingleExecutor: "Work Single Executor",
	WorkSingleOther:    "Work Single Other",
	WorkWorkshare:      "Work Workshare",
	WorkDistribute:     "Work Distribute",
	WorkTaskloop:       "Work Taskloop",
	WorkScope:          "Work Scope",
	WorkUnknown:        "Work Unknown",

	Master: "Master",
	Flush:  "Flush",

	CancelParallel:      "Cancel Parallel",
	CancelSections:      "Cancel Sections",
	CancelDo:            "Cancel Do",
	CancelTaskgroup:     "Cancel Taskgroup",
	CancelActivated:     "Cancel Activated",
	CancelDetected:      "Cancel Detected",
	CancelDiscardedTask: "Cancel Discarded Task",
}

func (s Subkind) String() string {
	if s < numSubkinds {
		return baseLabels[s]
	}
	return "subkind(" + strconv.Itoa(int(s)) + ")"
}

var threadKinds = map[omp.ThreadType]Subkind{
	omp.ThreadInitial: InitialThread,
	omp.ThreadWorker:  WorkerThread,
	omp.ThreadOther:   OtherThread,
}

// ThreadKind maps a thread type; anything unrecognized is UnknownThread.
func ThreadKind(tt omp.ThreadType) Subkind {
	if s, ok := threadKinds[tt]; ok {
		return s
	}
	return UnknownThread
}

// taskFlagPriority lists the creation flags in the order the runtime
// enumerates them. The first one present names the task.
var taskFlagPriority = [...]struct {
	flag omp.TaskFlag
	kind Subkind
}{
	{omp.TaskInitial, InitialTask},
	{omp.TaskImplicit, ImplicitTask},
	{omp.TaskExplicit, ExplicitTask},
	{omp.TaskTarget, TargetTask},
	{omp.TaskUndeferred, UndeferredTask},
	{omp.TaskUntied, UntiedTask},
	{omp.TaskFinal, FinalTask},
	{omp.TaskMergeable, MergeableTask},
	{omp.TaskMerged, MergedTask},
}

// TaskCreateKind picks the label for a task_create event. Flags matching
// nothing in the priority list, including zero, fall back to MergedTask.
func TaskCreateKind(flags omp.TaskFlag) Subkind {
	for _, p := range taskFlagPriority {
		if flags.Has(p.flag) {
			return p.kind
		}
	}
	return MergedTask
}

// ImplicitTaskKind picks the label for an implicit_task begin.
func ImplicitTaskKind(flags omp.TaskFlag) Subkind {
	if flags.Has(omp.TaskInitial) {
		return InitialTask
	}
	return ImplicitTask
}

var syncKinds = map[omp.SyncRegionKind]Subkind{
	omp.SyncBarrier:                  Barrier,
	omp.SyncBarrierImplicit:          ImplicitBarrier,
	omp.SyncBarrierExplicit:          ExplicitBarrier,
	omp.SyncBarrierImplementation:    BarrierImplementation,
	omp.SyncTaskwait:                 TaskSync,
	omp.SyncTaskgroup:                TaskGroup,
	omp.SyncReduction:                Reduction,
	omp.SyncBarrierImplicitWorkshare: ImplicitWorkshareBarrier,
	omp.SyncBarrierImplicitParallel:  ImplicitParallelBarrier,
	omp.SyncBarrierTeams:             TeamsBarrier,
}

// SyncKind maps a sync region kind; anything unrecognized is UnknownSync.
func SyncKind(kind omp.SyncRegionKind) Subkind {
	if s, ok := syncKinds[kind]; ok {
		return s
	}
	return UnknownSync
}

var workKinds = map[omp.WorkType]Subkind{
	omp.WorkLoop:           WorkLoop,
	omp.WorkSections:       WorkSections,
	omp.WorkSingleExecutor: WorkSingleExecutor,
	omp.WorkSingleOther:    WorkSingleOther,
	omp.WorkWorkshare:      WorkWorkshare,
	omp.WorkDistribute:     WorkDistribute,
	omp.WorkTaskloop:       WorkTaskloop,
	omp.WorkScope:          WorkScope,
}

// WorkKind maps a work type; anything unrecognized is WorkUnknown.
func WorkKind(wt omp.WorkType) Subkind {
	if s, ok := workKinds[wt]; ok {
		return s
	}
	return WorkUnknown
}

// Units the work count of a work begin event is measured in.
const (
	CountIterations          = "Iterations"
	CountIterationsCollapsed = "Iterations (collapsed)"
	CountSections            = "Sections"
	CountSingle              = "Single"
	CountUnitsOfWork         = "Units of Work"
)

var countTypes = map[omp.WorkType]string{
	omp.WorkSections:       CountSections,
	omp.WorkSingleExecutor: CountSingle,
	omp.WorkSingleOther:    CountSingle,
	omp.WorkWorkshare:      CountUnitsOfWork,
	omp.WorkTaskloop:       CountIterationsCollapsed,
}

// CountType names the unit of a work event's count.
func CountType(wt omp.WorkType) string {
	if c, ok := countTypes[wt]; ok {
		return c
	}
	return CountIterations
}

var cancelFlags = [...]struct {
	flag omp.CancelFlag
	kind Subkind
}{
	{omp.CancelParallel, CancelParallel},
	{omp.CancelSections, CancelSections},
	{omp.CancelLoop, CancelDo},
	{omp.CancelTaskgroup, CancelTaskgroup},
	{omp.CancelActivated, CancelActivated},
	{omp.CancelDetected, CancelDetected},
	{omp.CancelDiscardedTask, CancelDiscardedTask},
}

// CancelKinds returns one subkind per flag set, in flag order.
func CancelKinds(flags omp.CancelFlag) []Subkind {
	var out []Subkind
	for _, c := range cancelFlags {
		if flags&c.flag != 0 {
			out = append(out, c.kind)
		}
	}
	return out
}
