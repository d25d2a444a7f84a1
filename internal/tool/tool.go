// Package tool is the adapter's attach point: it answers ompt_start_tool,
// negotiates capabilities with the runtime, initializes the measurement
// engine and subscribes the dispatcher's callbacks.
package tool

import (
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"

	"ompt_exporter/internal/config"
	"ompt_exporter/internal/dispatch"
	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/labels"
	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/omp"
	"ompt_exporter/internal/threads"
	"ompt_exporter/internal/timer"
)

// SubscriptionResult records one ompt_set_callback attempt.
type SubscriptionResult struct {
	Callback omp.Callback
	Group    string
	Result   omp.SetResult
}

// OK reports whether the runtime accepted the callback.
func (r SubscriptionResult) OK() bool {
	return r.Result != omp.SetError && r.Result != omp.SetNever
}

// Tool ties one runtime to one engine. The runtime calls StartTool,
// Initialize and Finalize; the host process calls Shutdown on exit.
type Tool struct {
	cfg    config.AdapterConfig
	eng    engine.Engine
	labels *labels.Taxonomy
	log    log.Logger

	mu            sync.Mutex
	caps          *omp.Capabilities
	missing       []string
	dispatcher    *dispatch.Dispatcher
	subscriptions []SubscriptionResult
	threadCount   int
	finalizeErr   error

	initialized      atomic.Bool
	engineUp         atomic.Bool
	runtimeFinalized atomic.Bool
}

// New returns a tool that will feed eng once a runtime attaches.
func New(cfg config.AdapterConfig, eng engine.Engine) *Tool {
	return &Tool{
		cfg:    cfg,
		eng:    eng,
		labels: labels.New(cfg.LabelPrefix),
		log:    logger.NewLoggerWithContext("tool"),
	}
}

// StartTool is the ompt_start_tool entry point. A disabled tool returns nil
// and the runtime proceeds without it.
func (t *Tool) StartTool(ompVersion uint, runtimeVersion string) *omp.StartToolResult {
	if !t.cfg.Enabled {
		t.log.Info().Str("runtime", runtimeVersion).Msg("Tool disabled, declining to attach")
		return nil
	}
	t.log.Info().
		Uint64("omp_version", uint64(ompVersion)).
		Str("runtime", runtimeVersion).
		Msg("Attaching to runtime")
	if ompVersion < omp.SupportedVersion {
		t.log.Warn().Uint64("supported", uint64(omp.SupportedVersion)).Msg("Runtime predates the supported interface version")
	}
	return &omp.StartToolResult{
		Initialize: t.Initialize,
		Finalize:   t.Finalize,
	}
}

// Initialize resolves the runtime's capabilities, initializes the engine
// and registers callbacks. Returning false detaches the tool.
func (t *Tool) Initialize(lookup omp.LookupFunc, initialDeviceNum int, toolData *omp.Data) bool {
	if !t.initialized.CompareAndSwap(false, true) {
		t.log.Warn().Msg("Initialize called twice, ignoring")
		return false
	}

	caps, missing := omp.ResolveCapabilities(lookup)
	for _, name := range missing {
		t.log.Debug().Str("capability", name).Msg("Runtime capability unsupported")
	}
	t.log.Info().
		Int("resolved", len(omp.CapabilityNames())-len(missing)).
		Int("unsupported", len(missing)).
		Int("initial_device", initialDeviceNum).
		Msg("Runtime capabilities resolved")
	if states := caps.States(); len(states) > 0 {
		t.log.Debug().Int("states", len(states)).Int("mutex_impls", len(caps.MutexImpls())).Msg("Runtime states enumerated")
	}

	threadCount := t.cfg.ThreadCount
	if threadCount <= 0 && caps.GetNumProcs != nil {
		threadCount = caps.GetNumProcs()
	}
	if threadCount <= 0 {
		threadCount = 1
	}

	arena := timer.NewArena(t.eng, caps.GetUniqueID)
	registry := threads.NewRegistry(t.eng, t.labels)
	d := dispatch.New(t.eng, t.labels, registry, arena, caps)

	// The thread running Initialize is the initial thread; give it id 0
	// now so its thread_begin finds the id already cached.
	if caps.GetThreadData != nil {
		registry.Assign(caps.GetThreadData())
	}

	t.mu.Lock()
	t.caps = caps
	t.missing = missing
	t.dispatcher = d
	t.threadCount = threadCount
	t.mu.Unlock()

	if err := t.eng.Init(t.cfg.ProgramName, t.cfg.NodeID, threadCount); err != nil {
		t.log.Error().Err(err).Msg("Measurement engine failed to initialize, detaching")
		d.Stop()
		return false
	}
	t.engineUp.Store(true)

	if caps.SetCallback == nil {
		t.log.Error().Msg("Runtime offers no ompt_set_callback, detaching")
		d.Stop()
		t.finalizeEngine()
		return false
	}

	t.subscribe(caps, d)
	return true
}

// subscribe registers every callback of the enabled groups. A rejected
// callback is logged and the rest still get registered.
func (t *Tool) subscribe(caps *omp.Capabilities, d *dispatch.Dispatcher) {
	var results []SubscriptionResult
	failed := 0

	for _, group := range GetEnabledGroups(&t.cfg) {
		for _, cb := range group.Callbacks {
			fn, _ := d.Callback(cb)
			r := SubscriptionResult{Callback: cb, Group: group.Name, Result: caps.SetCallback(cb, fn)}
			results = append(results, r)

			if !r.OK() {
				failed++
				t.log.Warn().Str("callback", cb.String()).Str("group", group.Name).Str("result", r.Result.String()).Msg("Failed to register callback")
				continue
			}
			if caps.GetCallback != nil {
				if _, ok := caps.GetCallback(cb); !ok {
					t.log.Warn().Str("callback", cb.String()).Msg("Callback accepted but not reported back by the runtime")
				}
			}
			t.log.Debug().Str("callback", cb.String()).Str("result", r.Result.String()).Msg("Callback registered")
		}
	}

	t.mu.Lock()
	t.subscriptions = results
	t.mu.Unlock()

	t.log.Info().
		Int("groups", len(GetEnabledGroups(&t.cfg))).
		Int("registered", len(results)-failed).
		Int("failed", failed).
		Msg("Callbacks registered")
}

// Finalize is the runtime's ompt_finalize hook. No callback arrives after
// it returns.
func (t *Tool) Finalize(toolData *omp.Data) {
	t.runtimeFinalized.Store(true)
	if d := t.Dispatcher(); d != nil {
		d.Stop()
		d.LogHandlerCounts()
	}
	t.finalizeEngine()
}

// Shutdown tears the tool down from the host side. When the runtime has
// not finalized yet it is asked to, through ompt_finalize_tool, so no
// callback reaches an engine that is already gone. Safe to call more than
// once.
func (t *Tool) Shutdown() error {
	t.mu.Lock()
	caps, d := t.caps, t.dispatcher
	t.mu.Unlock()

	if d != nil && !t.runtimeFinalized.Load() {
		if caps.FinalizeTool != nil {
			t.log.Info().Msg("Forcing shutdown of the runtime's tool interface")
			caps.FinalizeTool()
		}
		d.Stop()
	}
	t.finalizeEngine()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeErr
}

// finalizeEngine calls the engine's Finalize at most once.
func (t *Tool) finalizeEngine() {
	if !t.engineUp.CompareAndSwap(true, false) {
		return
	}
	err := t.eng.Finalize()
	if err != nil {
		t.log.Error().Err(err).Msg("Measurement engine finalize failed")
	} else {
		t.log.Info().Msg("Measurement engine finalized")
	}
	t.mu.Lock()
	t.finalizeErr = err
	t.mu.Unlock()
}

// Dispatcher returns the dispatcher built by Initialize, or nil.
func (t *Tool) Dispatcher() *dispatch.Dispatcher {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dispatcher
}

// Capabilities returns the resolved capabilities, or nil before Initialize.
func (t *Tool) Capabilities() *omp.Capabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps
}

// MissingCapabilities lists the lookup names the runtime did not provide.
func (t *Tool) MissingCapabilities() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.missing...)
}

// Subscriptions returns every registration attempt in order.
func (t *Tool) Subscriptions() []SubscriptionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SubscriptionResult(nil), t.subscriptions...)
}

// ThreadCount is the thread count handed to the engine.
func (t *Tool) ThreadCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threadCount
}

// Collector returns the adapter's stats collector, or nil before
// Initialize.
func (t *Tool) Collector() *dispatch.StatsCollector {
	d := t.Dispatcher()
	if d == nil {
		return nil
	}
	return dispatch.NewStatsCollector(d)
}
