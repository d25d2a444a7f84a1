package simrt

import (
	"runtime"
	"sync/atomic"

	"ompt_exporter/internal/omp"
)

// task is an implicit or explicit task.
type task struct {
	data   omp.Data
	flags  omp.TaskFlag
	team   *team
	parent *task
	fn     func(th *Thread)

	// group is the innermost taskgroup of this task's region.
	group *taskGroup
	// children counts direct children not yet completed, for taskwait.
	children atomic.Int64
}

type taskGroup struct {
	parent    *taskGroup
	pending   atomic.Int64
	cancelled atomic.Bool
}

// finish accounts a completed or discarded task with its parent and
// taskgroup.
func (t *task) finish() {
	if t.parent != nil {
		t.parent.children.Add(-1)
	}
	if t.group != nil {
		t.group.pending.Add(-1)
	}
}

// Task creates an explicit task running fn. Extra flags refine the task:
// omp.TaskUndeferred runs it immediately on this thread, omp.TaskFinal
// makes its descendants undeferred too, omp.TaskUntied and
// omp.TaskMergeable are reported as given. Children of a final task are
// final and undeferred.
func (th *Thread) Task(fn func(th *Thread), flags ...omp.TaskFlag) {
	codeptr := callerPC()
	rt, cur := th.rt, th.task

	f := omp.TaskExplicit
	for _, extra := range flags {
		f |= extra
	}
	if cur.flags.Has(omp.TaskFinal) {
		f |= omp.TaskFinal | omp.TaskUndeferred
	}

	t := &task{flags: f, team: th.team, parent: cur, fn: fn, group: cur.group}
	t.data.Value = rt.nextID()
	cur.children.Add(1)
	if t.group != nil {
		t.group.pending.Add(1)
	}

	rt.taskCreate(&cur.data, &t.data, f, codeptr)

	if f.Has(omp.TaskUndeferred) {
		th.execute(t, omp.TaskSwitch)
		return
	}
	tm := th.team
	tm.mu.Lock()
	tm.queue = append(tm.queue, t)
	tm.mu.Unlock()
}

// execute runs t on th, switching away from the current task and back.
func (th *Thread) execute(t *task, status omp.TaskStatus) {
	rt, prior := th.rt, th.task

	rt.taskSchedule(&prior.data, status, &t.data)
	th.task = t
	t.fn(th)
	th.task = prior
	rt.taskSchedule(&t.data, omp.TaskComplete, &prior.data)

	t.finish()
}

func (tm *team) pop() *task {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if len(tm.queue) == 0 {
		return nil
	}
	t := tm.queue[0]
	tm.queue[0] = nil
	tm.queue = tm.queue[1:]
	return t
}

// runOne runs one queued task of the team. Tasks of a cancelled taskgroup
// are discarded instead. It reports whether a task ran.
func (th *Thread) runOne(status omp.TaskStatus) bool {
	for {
		t := th.team.pop()
		if t == nil {
			return false
		}
		if t.group != nil && t.group.cancelled.Load() {
			th.rt.cancel(&t.data, omp.CancelTaskgroup|omp.CancelDiscardedTask, 0)
			t.finish()
			continue
		}
		th.execute(t, status)
		return true
	}
}

// drainTasks runs queued tasks until the team's queue is empty.
func (th *Thread) drainTasks() {
	for th.runOne(omp.TaskSwitch) {
	}
}

// waitFor helps run queued tasks until done reports true.
func (th *Thread) waitFor(done func() bool) {
	for !done() {
		if !th.runOne(omp.TaskSwitch) {
			runtime.Gosched()
		}
	}
}

// TaskWait waits for the current task's children.
func (th *Thread) TaskWait() {
	codeptr := callerPC()
	rt, tm, cur := th.rt, th.team, th.task

	rt.syncRegion(omp.SyncTaskwait, omp.ScopeBegin, &tm.parallel, &cur.data, codeptr)
	rt.syncRegionWait(omp.SyncTaskwait, omp.ScopeBegin, &tm.parallel, &cur.data, codeptr)
	th.waitFor(func() bool { return cur.children.Load() == 0 })
	rt.syncRegionWait(omp.SyncTaskwait, omp.ScopeEnd, &tm.parallel, &cur.data, codeptr)
	rt.syncRegion(omp.SyncTaskwait, omp.ScopeEnd, &tm.parallel, &cur.data, codeptr)
}

// TaskGroup runs body and then waits for every task created inside it,
// descendants included.
func (th *Thread) TaskGroup(body func(th *Thread)) {
	codeptr := callerPC()
	rt, tm, cur := th.rt, th.team, th.task

	g := &taskGroup{parent: cur.group}
	rt.syncRegion(omp.SyncTaskgroup, omp.ScopeBegin, &tm.parallel, &cur.data, codeptr)
	cur.group = g
	body(th)
	rt.syncRegionWait(omp.SyncTaskgroup, omp.ScopeBegin, &tm.parallel, &cur.data, codeptr)
	th.waitFor(func() bool { return g.pending.Load() == 0 })
	rt.syncRegionWait(omp.SyncTaskgroup, omp.ScopeEnd, &tm.parallel, &cur.data, codeptr)
	cur.group = g.parent
	rt.syncRegion(omp.SyncTaskgroup, omp.ScopeEnd, &tm.parallel, &cur.data, codeptr)
}

// TaskYield lets the thread run one queued task before continuing.
func (th *Thread) TaskYield() {
	th.runOne(omp.TaskYield)
}
