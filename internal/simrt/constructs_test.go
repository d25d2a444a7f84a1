package simrt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ompt_exporter/internal/omp"
)

func ev(format string, args ...any) string { return fmt.Sprintf(format, args...) }

func TestParallelTeam(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	rt, p := runWith(t, Config{Threads: 4}, func(th *Thread) {
		assert.Equal(t, 0, th.Level())
		th.Parallel(0, func(th *Thread) {
			assert.Equal(t, 4, th.TeamSize())
			assert.Equal(t, 1, th.Level())
			mu.Lock()
			seen[th.Num()] = true
			mu.Unlock()
		})
	})

	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, seen)
	assert.Equal(t, 1, p.count("parallel_begin 4"))
	assert.Equal(t, 1, p.count("parallel_end"))
	assert.Equal(t, 5, p.count("implicit_task begin"), "4 members plus the initial task")
	assert.Equal(t, 4, p.count(ev("sync_region %d begin", omp.SyncBarrierImplicitParallel)))
	assert.Equal(t, 4, p.count("thread_begin"), "initial plus 3 workers")
	assert.Equal(t, 4, p.count("thread_end"))
	assert.Zero(t, rt.PoolSize(), "pool is emptied on stop")
}

func TestWorkersAreReused(t *testing.T) {
	var pool int
	_, p := runWith(t, Config{Threads: 3}, func(th *Thread) {
		for range 5 {
			th.Parallel(0, func(*Thread) {})
		}
		pool = th.Runtime().PoolSize()
	})
	assert.Equal(t, 2, pool)
	assert.Equal(t, 3, p.count("thread_begin"))
	assert.Equal(t, 5, p.count("parallel_begin"))
}

func TestNestedParallelGrowsPool(t *testing.T) {
	var inner atomic.Int64
	_, p := runWith(t, Config{Threads: 2}, func(th *Thread) {
		th.Parallel(2, func(th *Thread) {
			th.Parallel(2, func(th *Thread) {
				assert.Equal(t, 2, th.Level())
				inner.Add(1)
			})
		})
	})
	assert.Equal(t, int64(4), inner.Load())
	assert.Equal(t, 3, p.count("parallel_begin"))
	// The second inner region reuses the first one's worker when that
	// region finished before it asked for one.
	assert.Contains(t, []int{3, 4}, p.count("thread_begin"))
}

func TestLoopCoversEveryIterationOnce(t *testing.T) {
	const n = 103
	var hits [n]atomic.Int64
	_, p := runWith(t, Config{Threads: 4}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.Loop(n, func(_ *Thread, i int) { hits[i].Add(1) })
		})
	})
	for i := range hits {
		assert.Equal(t, int64(1), hits[i].Load(), "iteration %d", i)
	}
	assert.Equal(t, 4, p.count(ev("work %d begin", omp.WorkLoop)))
	assert.Equal(t, 4, p.count(ev("sync_region %d begin", omp.SyncBarrierImplicitWorkshare)))
}

func TestLoopNoWaitSkipsBarrier(t *testing.T) {
	_, p := runWith(t, Config{Threads: 2}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.LoopNoWait(10, func(*Thread, int) {})
		})
	})
	assert.Equal(t, 2, p.count(ev("work %d end", omp.WorkLoop)))
	assert.Zero(t, p.count(ev("sync_region %d", omp.SyncBarrierImplicitWorkshare)))
}

func TestSectionsRunOnce(t *testing.T) {
	var a, b, c atomic.Int64
	_, p := runWith(t, Config{Threads: 4}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.Sections(
				func(*Thread) { a.Add(1) },
				func(*Thread) { b.Add(1) },
				func(*Thread) { c.Add(1) },
			)
		})
	})
	assert.Equal(t, []int64{1, 1, 1}, []int64{a.Load(), b.Load(), c.Load()})
	assert.Equal(t, 4, p.count(ev("work %d begin 3", omp.WorkSections)))
}

func TestSingleExecutesOnce(t *testing.T) {
	var runs atomic.Int64
	_, p := runWith(t, Config{Threads: 4}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			for range 3 {
				th.Single(func(*Thread) { runs.Add(1) })
			}
		})
	})
	assert.Equal(t, int64(3), runs.Load())
	assert.Equal(t, 3, p.count(ev("work %d begin", omp.WorkSingleExecutor)))
	assert.Equal(t, 9, p.count(ev("work %d begin", omp.WorkSingleOther)))
}

func TestWorkshareStateIsReleased(t *testing.T) {
	var leftover int
	runWith(t, Config{Threads: 3}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.Single(func(*Thread) {})
			th.Sections(func(*Thread) {})
			th.Loop(5, func(*Thread, int) {})
			th.Barrier()
			th.Master(func(th *Thread) {
				th.team.mu.Lock()
				leftover = len(th.team.ws)
				th.team.mu.Unlock()
			})
		})
	})
	assert.Zero(t, leftover)
}

func TestMasterOnlyOnThreadZero(t *testing.T) {
	var who []int
	_, p := runWith(t, Config{Threads: 3}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.Master(func(th *Thread) { who = append(who, th.Num()) })
		})
	})
	assert.Equal(t, []int{0}, who)
	assert.Equal(t, 1, p.count("master begin"))
	assert.Equal(t, 1, p.count("master end"))
}

func TestReduction(t *testing.T) {
	var mu sync.Mutex
	var results []float64
	_, p := runWith(t, Config{Threads: 4}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			sum := th.Reduction(float64(th.Num()+1), func(a, b float64) float64 { return a + b })
			mu.Lock()
			results = append(results, sum)
			mu.Unlock()
		})
	})
	assert.Equal(t, []float64{10, 10, 10, 10}, results)
	assert.Equal(t, 4, p.count(ev("sync_region %d begin", omp.SyncReduction)))
}

func TestExplicitBarrier(t *testing.T) {
	var before atomic.Int64
	_, p := runWith(t, Config{Threads: 3}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			before.Add(1)
			th.Barrier()
			assert.Equal(t, int64(3), before.Load())
		})
	})
	assert.Equal(t, 3, p.count(ev("sync_region_wait %d end", omp.SyncBarrierExplicit)))
}

func TestFlush(t *testing.T) {
	_, p := runWith(t, Config{Threads: 1}, func(th *Thread) { th.Flush() })
	assert.Equal(t, 1, p.count("flush"))
}

func TestTasksCompleteBeforeBarrier(t *testing.T) {
	var done atomic.Int64
	_, p := runWith(t, Config{Threads: 3}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.Master(func(th *Thread) {
				for range 10 {
					th.Task(func(*Thread) { done.Add(1) })
				}
			})
			th.Barrier()
			assert.Equal(t, int64(10), done.Load())
		})
	})
	assert.Equal(t, 10, p.count("task_create"))
	assert.Equal(t, 10, p.count("task_schedule complete"))
	assert.Equal(t, 10, p.count("task_schedule switch"))
}

func TestTaskWaitWaitsForChildren(t *testing.T) {
	_, p := runWith(t, Config{Threads: 2}, func(th *Thread) {
		var x, y int
		th.Task(func(*Thread) { x = 1 })
		th.Task(func(*Thread) { y = 2 })
		th.TaskWait()
		assert.Equal(t, 3, x+y)
	})
	assert.Equal(t, 1, p.count(ev("sync_region %d begin", omp.SyncTaskwait)))
	assert.Equal(t, 1, p.count(ev("sync_region_wait %d end", omp.SyncTaskwait)))
}

func TestTaskFlags(t *testing.T) {
	_, p := runWith(t, Config{Threads: 1}, func(th *Thread) {
		var order []string
		th.Task(func(*Thread) { order = append(order, "undeferred") }, omp.TaskUndeferred)
		order = append(order, "after")
		th.Task(func(th *Thread) {
			th.Task(func(*Thread) { order = append(order, "final child") })
			order = append(order, "final")
		}, omp.TaskFinal, omp.TaskUndeferred)
		th.TaskWait()
		assert.Equal(t, []string{"undeferred", "after", "final child", "final"}, order)
	})

	assert.Equal(t, 1, p.count(ev("task_create %#x", uint32(omp.TaskExplicit|omp.TaskUndeferred))))
	assert.Equal(t, 2, p.count(ev("task_create %#x", uint32(omp.TaskExplicit|omp.TaskFinal|omp.TaskUndeferred))),
		"the final task and its child")
}

func TestTaskYieldRunsQueuedTask(t *testing.T) {
	_, p := runWith(t, Config{Threads: 1}, func(th *Thread) {
		ran := false
		th.Task(func(*Thread) { ran = true })
		th.TaskYield()
		assert.True(t, ran)
		th.TaskYield()
	})
	assert.Equal(t, 1, p.count("task_schedule yield"))
}

func TestTaskGroupWaitsForDescendants(t *testing.T) {
	var done atomic.Int64
	_, p := runWith(t, Config{Threads: 2}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			th.Single(func(th *Thread) {
				th.TaskGroup(func(th *Thread) {
					for range 3 {
						th.Task(func(th *Thread) {
							th.Task(func(*Thread) { done.Add(1) })
						})
					}
				})
				assert.Equal(t, int64(3), done.Load())
			})
		})
	})
	assert.Equal(t, 1, p.count(ev("sync_region %d begin", omp.SyncTaskgroup)))
	assert.Equal(t, 1, p.count(ev("sync_region_wait %d end", omp.SyncTaskgroup)))
}

func TestTaskGroupCancelDiscardsQueuedTasks(t *testing.T) {
	var ran atomic.Int64
	_, p := runWith(t, Config{Threads: 1}, func(th *Thread) {
		th.TaskGroup(func(th *Thread) {
			th.Task(func(th *Thread) {
				assert.True(t, th.Cancel(omp.CancelTaskgroup))
			})
			for range 3 {
				th.Task(func(*Thread) { ran.Add(1) })
			}
		})
	})

	assert.Zero(t, ran.Load())
	assert.Equal(t, 1, p.count(ev("cancel %#x", int32(omp.CancelTaskgroup|omp.CancelActivated))))
	assert.Equal(t, 3, p.count(ev("cancel %#x", int32(omp.CancelTaskgroup|omp.CancelDiscardedTask))))
}

func TestCancelOutsideTaskGroup(t *testing.T) {
	_, p := runWith(t, Config{Threads: 1}, func(th *Thread) {
		assert.False(t, th.Cancel(omp.CancelTaskgroup))
		assert.False(t, th.Cancel(omp.CancelLoop), "unsupported kind")
		assert.False(t, th.CancellationPoint(omp.CancelTaskgroup))
	})
	assert.Zero(t, p.count("cancel"))
}

func TestParallelCancel(t *testing.T) {
	var detected atomic.Int64
	_, p := runWith(t, Config{Threads: 3}, func(th *Thread) {
		th.Parallel(0, func(th *Thread) {
			if th.Num() == 0 {
				assert.True(t, th.Cancel(omp.CancelParallel))
			}
			th.Barrier()
			if th.CancellationPoint(omp.CancelParallel) {
				detected.Add(1)
			}
		})
	})
	assert.Equal(t, int64(3), detected.Load())
	assert.Equal(t, 1, p.count(ev("cancel %#x", int32(omp.CancelParallel|omp.CancelActivated))))
	assert.Equal(t, 3, p.count(ev("cancel %#x", int32(omp.CancelParallel|omp.CancelDetected))))
}

func TestWorkloadLookup(t *testing.T) {
	for _, w := range Workloads() {
		got, err := LookupWorkload(w.Name)
		require.NoError(t, err)
		assert.Equal(t, w.Name, got.Name)
	}
	_, err := LookupWorkload("nbody")
	assert.ErrorContains(t, err, "matmult, fibonacci, mixed")
}

func TestWorkloadResults(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		want float64
	}{
		{"fibonacci", Params{Threads: 3, Iterations: 1, Size: 20}, 6765},
		{"fibonacci", Params{Threads: 2, Iterations: 2, Size: 40}, 46368},
		// trace of A*B with a[i][k]=i+k, b[k][j]=k*j for n=4
		{"matmult", Params{Threads: 2, Iterations: 1, Size: 4}, 168},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.name, tt.p.Size), func(t *testing.T) {
			w, err := LookupWorkload(tt.name)
			require.NoError(t, err)
			var got float64
			rt, err := New(Config{Threads: tt.p.Threads}, nil)
			require.NoError(t, err)
			require.NoError(t, rt.Run(func(th *Thread) { got = w.Run(th, tt.p) }))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
