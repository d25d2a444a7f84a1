package promengine

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(c *fakeClock) *Engine {
	return New(WithClock(c.now))
}

func gather(t *testing.T, e *Engine) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(e))
	return reg
}

func TestInitFinalizeLifecycle(t *testing.T) {
	e := New()
	require.Error(t, e.Finalize(), "finalize before init")
	require.NoError(t, e.Init("prog", 0, 4))
	require.Error(t, e.Init("prog", 0, 4))
	require.NoError(t, e.Finalize())
	require.Error(t, e.Finalize())
}

func TestIntervalDurationExcludesSuspendedTime(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(clock)
	require.NoError(t, e.Init("prog", 0, 1))

	h := e.Start("OpenMP Explicit Task", 1, 0)
	clock.advance(2 * time.Millisecond)
	e.Yield(h)
	clock.advance(time.Second)
	e.Resume(h)
	clock.advance(3 * time.Millisecond)
	e.Stop(h)

	families, err := gather(t, e).Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "ompt_interval_duration_seconds" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		hist := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), hist.GetSampleCount())
		assert.InDelta(t, 0.005, hist.GetSampleSum(), 1e-9)
	}
	assert.True(t, found)
	assert.Zero(t, e.Open())
}

func TestCallsYieldsAndChildren(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(clock)
	require.NoError(t, e.Init("prog", 0, 2))

	region := e.Start("OpenMP Parallel Region", 1, 0)
	for range 3 {
		task := e.Start("OpenMP Implicit Task", 2, region)
		e.Yield(task)
		e.Resume(task)
		e.Stop(task)
	}
	e.Stop(region)

	expected := `
# HELP ompt_interval_calls_total Total number of intervals stopped, by label.
# TYPE ompt_interval_calls_total counter
ompt_interval_calls_total{label="OpenMP Implicit Task"} 3
ompt_interval_calls_total{label="OpenMP Parallel Region"} 1
# HELP ompt_interval_yields_total Total number of times an interval was suspended, by label.
# TYPE ompt_interval_yields_total counter
ompt_interval_yields_total{label="OpenMP Implicit Task"} 3
ompt_interval_yields_total{label="OpenMP Parallel Region"} 0
# HELP ompt_interval_children_total Total number of intervals started with a parent of this label.
# TYPE ompt_interval_children_total counter
ompt_interval_children_total{label="OpenMP Parallel Region"} 3
# HELP ompt_intervals_open Current number of intervals started and not yet stopped.
# TYPE ompt_intervals_open gauge
ompt_intervals_open 0
`
	err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"ompt_interval_calls_total", "ompt_interval_yields_total",
		"ompt_interval_children_total", "ompt_intervals_open")
	assert.NoError(t, err)
}

func TestMisuseIsIgnored(t *testing.T) {
	e := New()
	require.NoError(t, e.Init("prog", 0, 1))

	h := e.Start("label", 1, 0)
	e.Resume(h) // running
	e.Yield(h)
	e.Yield(h) // suspended
	e.Stop(h)
	e.Stop(h) // unknown
	e.Resume(h)

	assert.Zero(t, e.Open())
	assert.Equal(t, 1, testutil.CollectAndCount(e, "ompt_interval_calls_total"))
}

func TestSamplesAndThreads(t *testing.T) {
	e := New()
	require.NoError(t, e.Init("matmult", 3, 2))

	e.SampleValue("Loop Iterations: OpenMP Work Loop", 64)
	e.SampleValue("Loop Iterations: OpenMP Work Loop", 16)
	e.RegisterThread(0, "OpenMP Initial Thread")
	e.RegisterThread(1, "OpenMP Worker Thread")
	e.ExitThread(1)

	expected := `
# HELP ompt_program_info Program being measured, with its node id and configured thread count.
# TYPE ompt_program_info gauge
ompt_program_info{node="3",program="matmult",threads="2"} 1
# HELP ompt_sample_count_total Total number of samples recorded, by name.
# TYPE ompt_sample_count_total counter
ompt_sample_count_total{name="Loop Iterations: OpenMP Work Loop"} 2
# HELP ompt_sample_sum Sum of sample values, by name.
# TYPE ompt_sample_sum gauge
ompt_sample_sum{name="Loop Iterations: OpenMP Work Loop"} 80
# HELP ompt_sample_min Smallest sample value, by name.
# TYPE ompt_sample_min gauge
ompt_sample_min{name="Loop Iterations: OpenMP Work Loop"} 16
# HELP ompt_sample_max Largest sample value, by name.
# TYPE ompt_sample_max gauge
ompt_sample_max{name="Loop Iterations: OpenMP Work Loop"} 64
# HELP ompt_thread_info Runtime threads currently registered.
# TYPE ompt_thread_info gauge
ompt_thread_info{name="OpenMP Initial Thread",thread="0"} 1
# HELP ompt_threads_registered_total Total number of runtime threads registered.
# TYPE ompt_threads_registered_total counter
ompt_threads_registered_total 2
# HELP ompt_threads_exited_total Total number of runtime threads that ended.
# TYPE ompt_threads_exited_total counter
ompt_threads_exited_total 1
`
	err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"ompt_program_info", "ompt_sample_count_total", "ompt_sample_sum",
		"ompt_sample_min", "ompt_sample_max", "ompt_thread_info",
		"ompt_threads_registered_total", "ompt_threads_exited_total")
	assert.NoError(t, err)
}

func TestConcurrentIntervals(t *testing.T) {
	e := New()
	require.NoError(t, e.Init("prog", 0, 8))

	done := make(chan struct{})
	for w := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := range 100 {
				h := e.Start("OpenMP Explicit Task", uint64(w*100+i), 0)
				e.Yield(h)
				e.Resume(h)
				e.Stop(h)
			}
		}()
	}
	for range 8 {
		<-done
	}

	assert.Zero(t, e.Open())
	expected := `
# HELP ompt_interval_calls_total Total number of intervals stopped, by label.
# TYPE ompt_interval_calls_total counter
ompt_interval_calls_total{label="OpenMP Explicit Task"} 800
`
	assert.NoError(t, testutil.CollectAndCompare(e, strings.NewReader(expected), "ompt_interval_calls_total"))
}
