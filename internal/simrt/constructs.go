package simrt

import (
	"runtime"
	"sync"

	"ompt_exporter/internal/omp"
)

// callerPC returns the return address into the workload code that called
// the construct, standing in for the codeptr_ra a compiler passes.
func callerPC() uintptr {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return 0
	}
	return pc
}

// Parallel runs body on a team of n threads, the calling thread being
// thread 0. n <= 0 uses the runtime's default team size.
func (th *Thread) Parallel(n int, body func(th *Thread)) {
	th.parallel(n, callerPC(), body)
}

func (th *Thread) parallel(n int, codeptr uintptr, body func(th *Thread)) {
	rt := th.rt
	if n <= 0 {
		n = rt.threads
	}

	tm := newTeam(rt, th.team, n, codeptr)
	tm.parallel.Value = rt.nextID()
	rt.parallelBegin(&th.task.data, &tm.parallel, uint32(n), codeptr)

	workers := rt.acquire(n - 1)
	var wg sync.WaitGroup
	wg.Add(len(workers))
	for i, w := range workers {
		w.work <- func(wt *Thread) {
			defer wg.Done()
			wt.implicitTask(tm, i+1, body)
		}
	}
	th.implicitTask(tm, 0, body)
	wg.Wait()
	rt.release(workers)

	rt.parallelEnd(&tm.parallel, &th.task.data, codeptr)
}

// implicitTask runs one team member's share of a parallel region and the
// region's closing barrier.
func (th *Thread) implicitTask(tm *team, num int, body func(th *Thread)) {
	rt := th.rt
	prevTeam, prevTask, prevNum, prevSeq := th.team, th.task, th.num, th.wsSeq

	it := &task{flags: omp.TaskImplicit, team: tm, parent: prevTask}
	it.data.Value = rt.nextID()
	th.team, th.task, th.num, th.wsSeq = tm, it, num, 0

	rt.implicitTask(omp.ScopeBegin, &tm.parallel, &it.data, uint32(tm.size), uint32(num), omp.TaskImplicit)
	body(th)
	th.barrier(omp.SyncBarrierImplicitParallel, tm.codeptr)
	rt.implicitTask(omp.ScopeEnd, nil, &it.data, 0, uint32(num), omp.TaskImplicit)

	th.team, th.task, th.num, th.wsSeq = prevTeam, prevTask, prevNum, prevSeq
}

// Barrier is an explicit team barrier. Queued tasks are run before the
// thread waits.
func (th *Thread) Barrier() {
	th.barrier(omp.SyncBarrierExplicit, callerPC())
}

func (th *Thread) barrier(kind omp.SyncRegionKind, codeptr uintptr) {
	rt, tm := th.rt, th.team
	rt.syncRegion(kind, omp.ScopeBegin, &tm.parallel, &th.task.data, codeptr)
	rt.syncRegionWait(kind, omp.ScopeBegin, &tm.parallel, &th.task.data, codeptr)
	th.drainTasks()
	tm.barrier.wait()
	rt.syncRegionWait(kind, omp.ScopeEnd, &tm.parallel, &th.task.data, codeptr)
	rt.syncRegion(kind, omp.ScopeEnd, &tm.parallel, &th.task.data, codeptr)
}

// Loop splits iterations [0, n) statically across the team and runs body
// for this thread's block, then waits at the loop's implicit barrier.
func (th *Thread) Loop(n int, body func(th *Thread, i int)) {
	th.loop(n, false, callerPC(), body)
}

// LoopNoWait is Loop without the closing barrier.
func (th *Thread) LoopNoWait(n int, body func(th *Thread, i int)) {
	th.loop(n, true, callerPC(), body)
}

func (th *Thread) loop(n int, nowait bool, codeptr uintptr, body func(th *Thread, i int)) {
	rt, tm := th.rt, th.team
	th.nextWorkshare()

	lo := n * th.num / tm.size
	hi := n * (th.num + 1) / tm.size
	rt.work(omp.WorkLoop, omp.ScopeBegin, &tm.parallel, &th.task.data, uint64(hi-lo), codeptr)
	for i := lo; i < hi; i++ {
		body(th, i)
	}
	rt.work(omp.WorkLoop, omp.ScopeEnd, &tm.parallel, &th.task.data, uint64(hi-lo), codeptr)

	if !nowait {
		th.barrier(omp.SyncBarrierImplicitWorkshare, codeptr)
	}
}

// Sections hands each section to exactly one thread of the team, in
// arrival order.
func (th *Thread) Sections(sections ...func(th *Thread)) {
	codeptr := callerPC()
	rt, tm := th.rt, th.team
	ws := th.nextWorkshare()

	rt.work(omp.WorkSections, omp.ScopeBegin, &tm.parallel, &th.task.data, uint64(len(sections)), codeptr)
	for {
		i := int(ws.next.Add(1) - 1)
		if i >= len(sections) {
			break
		}
		sections[i](th)
	}
	rt.work(omp.WorkSections, omp.ScopeEnd, &tm.parallel, &th.task.data, uint64(len(sections)), codeptr)

	th.barrier(omp.SyncBarrierImplicitWorkshare, codeptr)
}

// Single runs body on the first thread to arrive; the others skip it.
// Everyone waits at the closing barrier.
func (th *Thread) Single(body func(th *Thread)) {
	codeptr := callerPC()
	rt, tm := th.rt, th.team
	ws := th.nextWorkshare()

	if ws.claimed.CompareAndSwap(false, true) {
		rt.work(omp.WorkSingleExecutor, omp.ScopeBegin, &tm.parallel, &th.task.data, 1, codeptr)
		body(th)
		rt.work(omp.WorkSingleExecutor, omp.ScopeEnd, &tm.parallel, &th.task.data, 1, codeptr)
	} else {
		rt.work(omp.WorkSingleOther, omp.ScopeBegin, &tm.parallel, &th.task.data, 0, codeptr)
		rt.work(omp.WorkSingleOther, omp.ScopeEnd, &tm.parallel, &th.task.data, 0, codeptr)
	}

	th.barrier(omp.SyncBarrierImplicitWorkshare, codeptr)
}

// Master runs body on thread 0 only. There is no barrier.
func (th *Thread) Master(body func(th *Thread)) {
	if th.num != 0 {
		return
	}
	codeptr := callerPC()
	rt, tm := th.rt, th.team
	rt.master(omp.ScopeBegin, &tm.parallel, &th.task.data, codeptr)
	body(th)
	rt.master(omp.ScopeEnd, &tm.parallel, &th.task.data, codeptr)
}

// Reduction combines every thread's value with op and returns the result
// to all of them.
func (th *Thread) Reduction(value float64, op func(a, b float64) float64) float64 {
	codeptr := callerPC()
	rt, tm := th.rt, th.team
	ws := th.nextWorkshare()

	rt.syncRegion(omp.SyncReduction, omp.ScopeBegin, &tm.parallel, &th.task.data, codeptr)
	ws.mu.Lock()
	if ws.set {
		ws.acc = op(ws.acc, value)
	} else {
		ws.acc, ws.set = value, true
	}
	ws.mu.Unlock()
	rt.syncRegion(omp.SyncReduction, omp.ScopeEnd, &tm.parallel, &th.task.data, codeptr)

	th.barrier(omp.SyncBarrierImplicitWorkshare, codeptr)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.acc
}

// Flush is a memory flush.
func (th *Thread) Flush() {
	th.rt.flush(&th.data, callerPC())
}

// Cancel activates cancellation of the innermost parallel region
// (CancelParallel) or of the current task's taskgroup (CancelTaskgroup).
// It reports whether cancellation was activated; the caller should leave
// the construct when it was. Other kinds are not supported.
func (th *Thread) Cancel(kind omp.CancelFlag) bool {
	codeptr := callerPC()
	switch kind {
	case omp.CancelParallel:
		th.team.cancelled.Store(true)
	case omp.CancelTaskgroup:
		g := th.task.group
		if g == nil {
			return false
		}
		g.cancelled.Store(true)
	default:
		th.rt.log.Debug().Int("kind", int(kind)).Msg("Unsupported cancel kind")
		return false
	}
	th.rt.cancel(&th.task.data, kind|omp.CancelActivated, codeptr)
	return true
}

// CancellationPoint reports whether cancellation of kind was activated by
// another thread or task, announcing the detection when it was.
func (th *Thread) CancellationPoint(kind omp.CancelFlag) bool {
	codeptr := callerPC()
	var cancelled bool
	switch kind {
	case omp.CancelParallel:
		cancelled = th.team.cancelled.Load()
	case omp.CancelTaskgroup:
		cancelled = th.task.group != nil && th.task.group.cancelled.Load()
	}
	if cancelled {
		th.rt.cancel(&th.task.data, kind|omp.CancelDetected, codeptr)
	}
	return cancelled
}
