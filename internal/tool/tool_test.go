package tool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ompt_exporter/internal/config"
	"ompt_exporter/internal/engine/enginetest"
	"ompt_exporter/internal/omp"
)

// fakeRuntime serves the lookup side of the tool interface.
type fakeRuntime struct {
	mu        sync.Mutex
	callbacks map[omp.Callback]any
	reject    map[omp.Callback]bool
	thread    omp.Data
	finalized int
	finalize  omp.FinalizeFunc
	omit      map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		callbacks: make(map[omp.Callback]any),
		reject:    make(map[omp.Callback]bool),
		omit:      make(map[string]bool),
	}
}

func (r *fakeRuntime) lookup(name string) any {
	if r.omit[name] {
		return nil
	}
	switch name {
	case "ompt_set_callback":
		return omp.SetCallbackFunc(func(cb omp.Callback, fn any) omp.SetResult {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.reject[cb] {
				return omp.SetNever
			}
			r.callbacks[cb] = fn
			return omp.SetAlways
		})
	case "ompt_get_callback":
		return omp.GetCallbackFunc(func(cb omp.Callback) (any, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			fn, ok := r.callbacks[cb]
			return fn, ok
		})
	case "ompt_get_thread_data":
		return omp.GetThreadDataFunc(func() *omp.Data { return &r.thread })
	case "ompt_get_num_procs":
		return omp.GetNumProcsFunc(func() int { return 6 })
	case "ompt_finalize_tool":
		return omp.FinalizeToolFunc(func() {
			r.finalized++
			if r.finalize != nil {
				r.finalize(nil)
			}
		})
	}
	return nil
}

func (r *fakeRuntime) registered(cb omp.Callback) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callbacks[cb]
}

func testAdapterConfig() config.AdapterConfig {
	return config.AdapterConfig{
		Enabled:            true,
		ProgramName:        "test program",
		HighOverheadEvents: true,
		LabelPrefix:        "OpenMP",
	}
}

// attach runs the ompt_start_tool handshake the way a runtime would.
func attach(t *testing.T, tl *Tool, rt *fakeRuntime) bool {
	t.Helper()
	res := tl.StartTool(omp.SupportedVersion, "fake runtime")
	require.NotNil(t, res)
	rt.finalize = res.Finalize
	return res.Initialize(rt.lookup, 0, &res.ToolData)
}

func TestStartToolDisabled(t *testing.T) {
	cfg := testAdapterConfig()
	cfg.Enabled = false
	tl := New(cfg, enginetest.New())

	assert.Nil(t, tl.StartTool(omp.SupportedVersion, "fake runtime"))
}

func TestInitializeSubscribesAndInitsEngine(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	tl := New(testAdapterConfig(), rec)

	require.True(t, attach(t, tl, rt))

	inits := rec.Filter(enginetest.OpInit)
	require.Len(t, inits, 1)
	assert.Equal(t, "test program", inits[0].Name)
	assert.Equal(t, float64(6), inits[0].Value, "thread count falls back to the runtime's processor count")
	assert.Equal(t, 6, tl.ThreadCount())

	subs := tl.Subscriptions()
	cfg := testAdapterConfig()
	assert.Len(t, subs, len(GetEnabledCallbacks(&cfg)))
	assert.Len(t, subs, 13)
	for _, s := range subs {
		assert.True(t, s.OK(), s.Callback.String())
		assert.NotNil(t, rt.registered(s.Callback), s.Callback.String())
	}
	assert.IsType(t, omp.ThreadBeginFunc(nil), rt.registered(omp.CallbackThreadBegin))

	assert.Equal(t, uint64(1), rt.thread.Value, "initializing thread gets id 0")
	assert.NotNil(t, tl.Collector())
	assert.Contains(t, tl.MissingCapabilities(), "ompt_get_unique_id")
}

func TestInitializeConfiguredThreadCount(t *testing.T) {
	rec := enginetest.New()
	cfg := testAdapterConfig()
	cfg.ThreadCount = 3
	tl := New(cfg, rec)

	require.True(t, attach(t, tl, newFakeRuntime()))
	assert.Equal(t, 3, tl.ThreadCount())
}

func TestInitializeDefaultsToOneThread(t *testing.T) {
	rt := newFakeRuntime()
	rt.omit["ompt_get_num_procs"] = true
	tl := New(testAdapterConfig(), enginetest.New())

	require.True(t, attach(t, tl, rt))
	assert.Equal(t, 1, tl.ThreadCount())
}

func TestInitializeContinuesPastRejectedCallbacks(t *testing.T) {
	rt := newFakeRuntime()
	rt.reject[omp.CallbackTaskSchedule] = true
	rt.reject[omp.CallbackFlush] = true
	tl := New(testAdapterConfig(), enginetest.New())

	require.True(t, attach(t, tl, rt))

	failed := map[omp.Callback]string{}
	for _, s := range tl.Subscriptions() {
		if !s.OK() {
			failed[s.Callback] = s.Group
		}
	}
	assert.Equal(t, map[omp.Callback]string{
		omp.CallbackTaskSchedule: "tasking",
		omp.CallbackFlush:        "constructs",
	}, failed)
	assert.NotNil(t, rt.registered(omp.CallbackTaskCreate), "later callbacks still registered")
	assert.NotNil(t, rt.registered(omp.CallbackCancel))
}

func TestInitializeEngineFailure(t *testing.T) {
	rec := enginetest.New()
	rec.InitErr = errors.New("no measurement backend")
	rt := newFakeRuntime()
	tl := New(testAdapterConfig(), rec)

	assert.False(t, attach(t, tl, rt))
	assert.Empty(t, tl.Subscriptions())
	assert.Nil(t, rt.registered(omp.CallbackThreadBegin))

	require.NoError(t, tl.Shutdown())
	assert.Zero(t, rec.Count(enginetest.OpFinalize), "engine that never came up is not finalized")
}

func TestInitializeWithoutSetCallback(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	rt.omit["ompt_set_callback"] = true
	tl := New(testAdapterConfig(), rec)

	assert.False(t, attach(t, tl, rt))
	assert.Equal(t, 1, rec.Count(enginetest.OpInit))
	assert.Equal(t, 1, rec.Count(enginetest.OpFinalize))
}

func TestInitializeOnlyOnce(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	tl := New(testAdapterConfig(), rec)

	require.True(t, attach(t, tl, rt))
	assert.False(t, attach(t, tl, rt))
	assert.Equal(t, 1, rec.Count(enginetest.OpInit))
}

func TestRuntimeFinalizeStopsDispatch(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	tl := New(testAdapterConfig(), rec)
	require.True(t, attach(t, tl, rt))

	rt.finalize(nil)
	assert.True(t, tl.Dispatcher().Stopped())
	assert.Equal(t, 1, rec.Count(enginetest.OpFinalize))

	// Late events are dropped, not forwarded.
	var par, enc omp.Data
	begin := rt.registered(omp.CallbackParallelBegin).(omp.ParallelBeginFunc)
	begin(&enc, &par, 2, 0, 0)
	assert.Zero(t, rec.Count(enginetest.OpStart))
	assert.Equal(t, uint64(1), tl.Dispatcher().Dropped())

	require.NoError(t, tl.Shutdown())
	assert.Zero(t, rt.finalized, "runtime already finalized")
	assert.Equal(t, 1, rec.Count(enginetest.OpFinalize))
}

func TestShutdownForcesRuntimeFinalize(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	tl := New(testAdapterConfig(), rec)
	require.True(t, attach(t, tl, rt))

	require.NoError(t, tl.Shutdown())
	assert.Equal(t, 1, rt.finalized)
	assert.True(t, tl.Dispatcher().Stopped())
	assert.Equal(t, 1, rec.Count(enginetest.OpFinalize))

	require.NoError(t, tl.Shutdown())
	assert.Equal(t, 1, rt.finalized)
	assert.Equal(t, 1, rec.Count(enginetest.OpFinalize))
}

func TestShutdownWithoutFinalizeTool(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	rt.omit["ompt_finalize_tool"] = true
	tl := New(testAdapterConfig(), rec)
	require.True(t, attach(t, tl, rt))

	require.NoError(t, tl.Shutdown())
	assert.True(t, tl.Dispatcher().Stopped())
	assert.Equal(t, 1, rec.Count(enginetest.OpFinalize))
}

func TestShutdownReportsFinalizeError(t *testing.T) {
	rec := enginetest.New()
	rec.FinalizeErr = errors.New("flush failed")
	tl := New(testAdapterConfig(), rec)
	require.True(t, attach(t, tl, newFakeRuntime()))

	assert.EqualError(t, tl.Shutdown(), "flush failed")
}

func TestShutdownBeforeAttach(t *testing.T) {
	rec := enginetest.New()
	tl := New(testAdapterConfig(), rec)

	require.NoError(t, tl.Shutdown())
	assert.Empty(t, rec.Calls())
	assert.Nil(t, tl.Collector())
}

func TestThreadBeginReusesInitialID(t *testing.T) {
	rec := enginetest.New()
	rt := newFakeRuntime()
	tl := New(testAdapterConfig(), rec)
	require.True(t, attach(t, tl, rt))

	begin := rt.registered(omp.CallbackThreadBegin).(omp.ThreadBeginFunc)
	begin(omp.ThreadInitial, &rt.thread)

	regs := rec.Filter(enginetest.OpRegisterThread)
	require.Len(t, regs, 1)
	assert.Equal(t, 0, regs[0].Thread)
	assert.Equal(t, 1, tl.Dispatcher().Threads().Count())
}
