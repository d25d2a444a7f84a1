package simrt

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"ompt_exporter/internal/omp"
)

// Params sizes a workload run.
type Params struct {
	// Threads is the team size of every parallel region; 0 uses the
	// runtime default.
	Threads int
	// Iterations repeats the workload's main region.
	Iterations int
	// Size is the problem size: matrix order, fibonacci argument or loop
	// trip count.
	Size int
}

// Workload is a named program for the runtime's initial thread. Run
// returns a checksum of the computed result.
type Workload struct {
	Name        string
	Description string
	Run         func(th *Thread, p Params) float64
}

var workloads = []Workload{
	{
		Name:        "matmult",
		Description: "dense matrix multiply with a worksharing loop over rows",
		Run:         matmult,
	},
	{
		Name:        "fibonacci",
		Description: "recursive fibonacci with explicit tasks and taskwait",
		Run:         fibonacci,
	},
	{
		Name:        "mixed",
		Description: "every construct: sections, single, reduction, taskgroup, cancellation, nested parallel",
		Run:         mixed,
	},
}

// Workloads lists the built-in workloads.
func Workloads() []Workload {
	return slices.Clone(workloads)
}

// LookupWorkload finds a workload by name.
func LookupWorkload(name string) (Workload, error) {
	for _, w := range workloads {
		if w.Name == name {
			return w, nil
		}
	}
	names := make([]string, len(workloads))
	for i, w := range workloads {
		names[i] = w.Name
	}
	return Workload{}, fmt.Errorf("unknown workload %q (available: %s)", name, strings.Join(names, ", "))
}

func iterations(p Params) int {
	return max(p.Iterations, 1)
}

func matmult(th *Thread, p Params) float64 {
	n := max(p.Size, 1)
	a, b, c := make([]float64, n*n), make([]float64, n*n), make([]float64, n*n)
	var trace float64

	for range iterations(p) {
		th.Parallel(p.Threads, func(th *Thread) {
			th.Loop(n, func(_ *Thread, i int) {
				for j := range n {
					a[i*n+j] = float64(i + j)
					b[i*n+j] = float64(i * j)
				}
			})
			th.Loop(n, func(_ *Thread, i int) {
				for j := range n {
					var sum float64
					for k := range n {
						sum += a[i*n+k] * b[k*n+j]
					}
					c[i*n+j] = sum
				}
			})
			th.Master(func(*Thread) {
				trace = 0
				for i := range n {
					trace += c[i*n+i]
				}
			})
			th.Barrier()
		})
	}
	return trace
}

const fibCutoff = 12

func fib(th *Thread, n int) int {
	if n < 2 {
		return n
	}
	if n <= fibCutoff {
		return fib(th, n-1) + fib(th, n-2)
	}
	var x, y int
	th.Task(func(th *Thread) { x = fib(th, n-1) })
	th.Task(func(th *Thread) { y = fib(th, n-2) })
	th.TaskWait()
	return x + y
}

func fibonacci(th *Thread, p Params) float64 {
	n := min(max(p.Size, 1), 24)
	var result int
	for range iterations(p) {
		th.Parallel(p.Threads, func(th *Thread) {
			th.Single(func(th *Thread) {
				result = fib(th, n)
			})
		})
	}
	return float64(result)
}

func mixed(th *Thread, p Params) float64 {
	n := max(p.Size, 1)
	ends := make([]float64, 2)
	var sum float64

	for range iterations(p) {
		th.Parallel(p.Threads, func(th *Thread) {
			th.Sections(
				func(*Thread) { ends[0] = math.Sqrt(0) },
				func(*Thread) { ends[1] = math.Sqrt(float64(n - 1)) },
				func(th *Thread) { th.Flush() },
			)

			var local float64
			th.LoopNoWait(n, func(_ *Thread, i int) {
				local += math.Sqrt(float64(i))
			})
			total := th.Reduction(local, func(a, b float64) float64 { return a + b })
			th.Master(func(*Thread) { sum = total })

			th.Single(func(th *Thread) {
				th.Task(func(*Thread) {}, omp.TaskUndeferred)
				th.Task(func(th *Thread) {
					th.Task(func(*Thread) {})
				}, omp.TaskFinal)
				th.Task(func(th *Thread) { th.TaskYield() }, omp.TaskUntied)
				th.Task(func(*Thread) {}, omp.TaskMergeable)
				th.TaskWait()

				th.TaskGroup(func(th *Thread) {
					for i := range 4 {
						th.Task(func(th *Thread) {
							if i == 0 {
								th.Cancel(omp.CancelTaskgroup)
								return
							}
							th.CancellationPoint(omp.CancelTaskgroup)
						})
					}
				})
			})

			th.Master(func(th *Thread) {
				th.Parallel(2, func(th *Thread) {
					th.Barrier()
				})
			})
			th.Barrier()
		})

		th.Parallel(p.Threads, func(th *Thread) {
			if th.Num() == 0 {
				th.Cancel(omp.CancelParallel)
				return
			}
			for range n {
				if th.CancellationPoint(omp.CancelParallel) {
					return
				}
			}
		})
	}
	return sum + ends[0] + ends[1]
}
