package simrt

import (
	"runtime"
	"sync"
	"sync/atomic"

	"ompt_exporter/internal/omp"
	"ompt_exporter/internal/threads"
)

// Thread is one runtime thread. Constructs are called on the Thread the
// workload body receives; a Thread must only be used from that body.
type Thread struct {
	rt    *Runtime
	data  omp.Data
	kind  omp.ThreadType
	ostid int

	team  *team
	task  *task
	num   int
	wsSeq int
}

func (rt *Runtime) newThread(kind omp.ThreadType) *Thread {
	th := &Thread{rt: rt, kind: kind, ostid: threads.OSThreadID()}
	if threads.OSThreadIDSupported {
		rt.byTID.Store(th.ostid, th)
	}
	return th
}

func (rt *Runtime) forgetThread(th *Thread) {
	if threads.OSThreadIDSupported {
		rt.byTID.Delete(th.ostid)
	}
}

// Num is the thread's number within its current team.
func (th *Thread) Num() int { return th.num }

// TeamSize is the size of the thread's current team.
func (th *Thread) TeamSize() int { return th.team.size }

// Level is the nesting depth of the current parallel region, 0 outside
// any.
func (th *Thread) Level() int { return th.team.level }

// Runtime returns the runtime the thread belongs to.
func (th *Thread) Runtime() *Runtime { return th.rt }

// beginInitialTask starts the implicit task of the initial thread, bound
// to a one-thread team no parallel_begin announces.
func (th *Thread) beginInitialTask() {
	tm := newTeam(th.rt, nil, 1, 0)
	tm.parallel.Value = th.rt.nextID()
	th.team = tm
	th.task = &task{flags: omp.TaskInitial, team: tm}
	th.task.data.Value = th.rt.nextID()
	th.rt.implicitTask(omp.ScopeBegin, &tm.parallel, &th.task.data, 1, 1, omp.TaskInitial)
}

func (th *Thread) endInitialTask() {
	th.drainTasks()
	th.rt.implicitTask(omp.ScopeEnd, nil, &th.task.data, 0, 1, omp.TaskInitial)
}

// worker is a pooled thread. Pooled threads begin once and serve every
// parallel region until the runtime stops, as runtime thread pools do.
type worker struct {
	th   *Thread
	work chan func(*Thread)
}

func (rt *Runtime) spawnWorker() *worker {
	w := &worker{work: make(chan func(*Thread))}
	ready := make(chan struct{})
	rt.workers.Add(1)
	go func() {
		defer rt.workers.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		w.th = rt.newThread(omp.ThreadWorker)
		rt.threadBegin(w.th)
		close(ready)

		for fn := range w.work {
			fn(w.th)
		}

		rt.threadEnd(w.th)
		rt.forgetThread(w.th)
	}()
	<-ready
	return w
}

// acquire hands out n workers, spawning what the pool lacks.
func (rt *Runtime) acquire(n int) []*worker {
	rt.poolMu.Lock()
	defer rt.poolMu.Unlock()

	out := make([]*worker, 0, n)
	for len(out) < n && len(rt.idle) > 0 {
		last := len(rt.idle) - 1
		out = append(out, rt.idle[last])
		rt.idle = rt.idle[:last]
	}
	for len(out) < n {
		w := rt.spawnWorker()
		rt.all = append(rt.all, w)
		out = append(out, w)
	}
	return out
}

func (rt *Runtime) release(ws []*worker) {
	rt.poolMu.Lock()
	rt.idle = append(rt.idle, ws...)
	rt.poolMu.Unlock()
}

// stopWorkers ends every pooled thread and waits for their thread_end.
func (rt *Runtime) stopWorkers() {
	rt.poolMu.Lock()
	for _, w := range rt.all {
		close(w.work)
	}
	rt.all, rt.idle = nil, nil
	rt.poolMu.Unlock()
	rt.workers.Wait()
}

// PoolSize is the number of worker threads spawned so far.
func (rt *Runtime) PoolSize() int {
	rt.poolMu.Lock()
	defer rt.poolMu.Unlock()
	return len(rt.all)
}

// team is the set of threads executing one parallel region.
type team struct {
	rt       *Runtime
	parallel omp.Data
	parent   *team
	size     int
	level    int
	codeptr  uintptr
	barrier  *barrier

	cancelled atomic.Bool

	mu    sync.Mutex
	queue []*task
	ws    map[int]*workshare
}

func newTeam(rt *Runtime, parent *team, size int, codeptr uintptr) *team {
	tm := &team{
		rt:      rt,
		parent:  parent,
		size:    size,
		codeptr: codeptr,
		barrier: newBarrier(size),
		ws:      make(map[int]*workshare),
	}
	if parent != nil {
		tm.level = parent.level + 1
	}
	return tm
}

// workshare is the state one worksharing construct instance shares across
// the team. Every thread meets the constructs of a region in the same
// order, so the per-thread sequence number names the instance.
type workshare struct {
	next    atomic.Int64
	claimed atomic.Bool
	fetched atomic.Int64

	mu  sync.Mutex
	acc float64
	set bool
}

// nextWorkshare returns the state for the calling thread's next construct.
// The entry is dropped from the team once every member has fetched it.
func (th *Thread) nextWorkshare() *workshare {
	tm := th.team
	seq := th.wsSeq
	th.wsSeq++

	tm.mu.Lock()
	defer tm.mu.Unlock()
	ws, ok := tm.ws[seq]
	if !ok {
		ws = &workshare{}
		tm.ws[seq] = ws
	}
	if ws.fetched.Add(1) == int64(tm.size) {
		delete(tm.ws, seq)
	}
	return ws
}
