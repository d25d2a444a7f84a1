// Package threads assigns dense ids to runtime threads and reports their
// lifecycle to the measurement engine.
package threads

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ompt_exporter/internal/contract"
	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/labels"
	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/maps"
	"ompt_exporter/internal/omp"

	"github.com/phuslu/log"
)

// Thread describes one thread the registry has seen.
type Thread struct {
	ID         int
	Type       omp.ThreadType
	Name       string
	OSThreadID int
	Since      time.Time
}

// Registry hands out thread ids. The id lives in the thread's slot
// (Value = id+1) so every later event on that thread finds it without
// touching shared state; only first contact takes the lock.
type Registry struct {
	mu   sync.Mutex
	next int

	eng    engine.Engine
	labels *labels.Taxonomy
	live   maps.ConcurrentMap[int, *Thread]

	registered atomic.Uint64
	exited     atomic.Uint64

	log log.Logger
}

// NewRegistry returns a registry reporting to eng.
func NewRegistry(eng engine.Engine, tax *labels.Taxonomy) *Registry {
	return &Registry{
		eng:    eng,
		labels: tax,
		live:   maps.NewConcurrentMap[int, *Thread](),
		log:    logger.NewLoggerWithContext("threads"),
	}
}

// ID returns the id cached in slot, or -1 when the thread was never
// assigned one.
func ID(slot *omp.Data) int {
	if slot == nil || slot.Value == 0 {
		return -1
	}
	return int(slot.Value - 1)
}

// Assign returns the thread's id, allocating one on first contact. It must
// run on the thread that owns slot. The engine is not told; use Register
// for that.
func (r *Registry) Assign(slot *omp.Data) int {
	if id := ID(slot); id >= 0 {
		return id
	}

	r.mu.Lock()
	id := r.next
	r.next++
	r.mu.Unlock()

	if slot != nil {
		slot.Value = uint64(id) + 1
	}
	r.live.Store(id, &Thread{
		ID:         id,
		Type:       omp.ThreadUnknown,
		OSThreadID: OSThreadID(),
		Since:      time.Now(),
	})
	return id
}

// Register assigns the thread's id if needed and announces the thread to
// the engine under the name of its kind, with one sample of that name.
func (r *Registry) Register(tt omp.ThreadType, slot *omp.Data) int {
	id := r.Assign(slot)
	name := r.labels.Thread(tt)

	// Records are replaced, never mutated, so Live can copy them unlocked.
	r.live.Update(id, func(t *Thread, exists bool) (*Thread, bool) {
		nt := Thread{ID: id, OSThreadID: OSThreadID(), Since: time.Now()}
		if exists {
			nt = *t
		}
		nt.Type = tt
		nt.Name = name
		return &nt, true
	})
	r.registered.Add(1)

	r.eng.RegisterThread(id, name)
	r.eng.SampleValue(name, 1)

	r.log.Debug().Int("thread_id", id).Str("type", tt.String()).Int("tid", OSThreadID()).Msg("Thread registered")
	return id
}

// Exit tells the engine the thread is gone and forgets its id. The slot is
// cleared so a reused slot starts over.
func (r *Registry) Exit(slot *omp.Data) {
	id := ID(slot)
	if id < 0 {
		contract.Violation("threads", "thread_end on a thread that never began")
		return
	}
	r.eng.ExitThread(id)
	r.live.Delete(id)
	r.exited.Add(1)
	slot.Value = 0

	r.log.Debug().Int("thread_id", id).Msg("Thread exited")
}

// Count returns the number of ids handed out so far.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Registered returns how many Register calls were made.
func (r *Registry) Registered() uint64 { return r.registered.Load() }

// Exited returns how many threads ended.
func (r *Registry) Exited() uint64 { return r.exited.Load() }

// Live returns a snapshot of the threads that have not exited, by id.
func (r *Registry) Live() []Thread {
	var out []Thread
	r.live.Range(func(_ int, t *Thread) bool {
		out = append(out, *t)
		return true
	})
	slices.SortFunc(out, func(a, b Thread) int { return a.ID - b.ID })
	return out
}
