// Package promengine is a measurement engine that aggregates intervals per
// label and exposes them as Prometheus metrics.
package promengine

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/maps"
)

// DurationBuckets are the interval duration histogram bounds, in seconds.
var DurationBuckets = prometheus.ExponentialBuckets(1e-6, 4, 12)

// interval is one open measurement. Only the thread currently driving the
// interval touches it.
type interval struct {
	label   string
	parent  engine.IntervalHandle
	started time.Time // zero while suspended
	elapsed time.Duration
	yields  uint64
}

// labelStats accumulates every stopped interval of one label.
type labelStats struct {
	calls    uint64
	yields   uint64
	buckets  []uint64 // per DurationBuckets bound, not cumulative
	count    uint64
	sum      float64
	children uint64
}

type sampleStats struct {
	count uint64
	sum   float64
	min   float64
	max   float64
}

// Engine implements engine.Engine and prometheus.Collector.
type Engine struct {
	now func() time.Time
	log log.Logger

	next      atomic.Uint64
	intervals maps.ConcurrentMap[engine.IntervalHandle, *interval]

	mu          sync.Mutex
	program     string
	node        int
	threadCount int
	initialized bool
	finalized   bool
	labels      map[string]*labelStats
	samples     map[string]*sampleStats
	threads     map[int]string
	registered  uint64
	exited      uint64

	programDesc   *prometheus.Desc
	callsDesc     *prometheus.Desc
	yieldsDesc    *prometheus.Desc
	durationDesc  *prometheus.Desc
	childrenDesc  *prometheus.Desc
	openDesc      *prometheus.Desc
	sampleCntDesc *prometheus.Desc
	sampleSumDesc *prometheus.Desc
	sampleMinDesc *prometheus.Desc
	sampleMaxDesc *prometheus.Desc
	threadDesc    *prometheus.Desc
	threadsDesc   *prometheus.Desc
	exitedDesc    *prometheus.Desc
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Register it with a prometheus.Registerer to
// expose its metrics.
func New(opts ...Option) *Engine {
	e := &Engine{
		now:       time.Now,
		log:       logger.NewLoggerWithContext("promengine"),
		intervals: maps.NewConcurrentMap[engine.IntervalHandle, *interval](),
		labels:    make(map[string]*labelStats),
		samples:   make(map[string]*sampleStats),
		threads:   make(map[int]string),

		programDesc: prometheus.NewDesc(
			"ompt_program_info",
			"Program being measured, with its node id and configured thread count.",
			[]string{"program", "node", "threads"}, nil),
		callsDesc: prometheus.NewDesc(
			"ompt_interval_calls_total",
			"Total number of intervals stopped, by label.",
			[]string{"label"}, nil),
		yieldsDesc: prometheus.NewDesc(
			"ompt_interval_yields_total",
			"Total number of times an interval was suspended, by label.",
			[]string{"label"}, nil),
		durationDesc: prometheus.NewDesc(
			"ompt_interval_duration_seconds",
			"Running time of stopped intervals, excluding suspended time, by label.",
			[]string{"label"}, nil),
		childrenDesc: prometheus.NewDesc(
			"ompt_interval_children_total",
			"Total number of intervals started with a parent of this label.",
			[]string{"label"}, nil),
		openDesc: prometheus.NewDesc(
			"ompt_intervals_open",
			"Current number of intervals started and not yet stopped.",
			nil, nil),
		sampleCntDesc: prometheus.NewDesc(
			"ompt_sample_count_total",
			"Total number of samples recorded, by name.",
			[]string{"name"}, nil),
		sampleSumDesc: prometheus.NewDesc(
			"ompt_sample_sum",
			"Sum of sample values, by name.",
			[]string{"name"}, nil),
		sampleMinDesc: prometheus.NewDesc(
			"ompt_sample_min",
			"Smallest sample value, by name.",
			[]string{"name"}, nil),
		sampleMaxDesc: prometheus.NewDesc(
			"ompt_sample_max",
			"Largest sample value, by name.",
			[]string{"name"}, nil),
		threadDesc: prometheus.NewDesc(
			"ompt_thread_info",
			"Runtime threads currently registered.",
			[]string{"thread", "name"}, nil),
		threadsDesc: prometheus.NewDesc(
			"ompt_threads_registered_total",
			"Total number of runtime threads registered.",
			nil, nil),
		exitedDesc: prometheus.NewDesc(
			"ompt_threads_exited_total",
			"Total number of runtime threads that ended.",
			nil, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Init(programName string, nodeID, threadCount int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return errors.New("promengine: already initialized")
	}
	e.initialized = true
	e.program, e.node, e.threadCount = programName, nodeID, threadCount
	e.log.Info().Str("program", programName).Int("node", nodeID).Int("threads", threadCount).Msg("Engine initialized")
	return nil
}

// Finalize closes the run. Metrics stay scrapeable afterwards; intervals
// still open are logged and left out of the aggregates.
func (e *Engine) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return errors.New("promengine: finalize before init")
	}
	if e.finalized {
		return errors.New("promengine: already finalized")
	}
	e.finalized = true
	if open := e.intervals.Len(); open > 0 {
		e.log.Warn().Int("open", open).Msg("Intervals still open at finalize")
	}
	e.log.Info().Int("labels", len(e.labels)).Int("samples", len(e.samples)).Msg("Engine finalized")
	return nil
}

func (e *Engine) Start(label string, id uint64, parent engine.IntervalHandle) engine.IntervalHandle {
	h := engine.IntervalHandle(e.next.Add(1))
	e.intervals.Store(h, &interval{label: label, parent: parent, started: e.now()})

	if parent != 0 {
		if p, ok := e.intervals.Load(parent); ok {
			e.mu.Lock()
			e.statsLocked(p.label).children++
			e.mu.Unlock()
		}
	}
	return h
}

func (e *Engine) Resume(h engine.IntervalHandle) {
	iv, ok := e.intervals.Load(h)
	if !ok || !iv.started.IsZero() {
		e.log.Warn().Uint64("interval", uint64(h)).Msg("Resume of an interval that is not suspended")
		return
	}
	iv.started = e.now()
}

func (e *Engine) Yield(h engine.IntervalHandle) {
	iv, ok := e.intervals.Load(h)
	if !ok || iv.started.IsZero() {
		e.log.Warn().Uint64("interval", uint64(h)).Msg("Yield of an interval that is not running")
		return
	}
	iv.elapsed += e.now().Sub(iv.started)
	iv.started = time.Time{}
	iv.yields++
}

func (e *Engine) Stop(h engine.IntervalHandle) {
	iv, ok := e.intervals.LoadAndDelete(h)
	if !ok {
		e.log.Warn().Uint64("interval", uint64(h)).Msg("Stop of an unknown interval")
		return
	}
	if !iv.started.IsZero() {
		iv.elapsed += e.now().Sub(iv.started)
	}
	seconds := iv.elapsed.Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.statsLocked(iv.label)
	s.calls++
	s.yields += iv.yields
	s.count++
	s.sum += seconds
	i := sort.SearchFloat64s(DurationBuckets, seconds)
	if i < len(s.buckets) {
		s.buckets[i]++
	}
}

// statsLocked returns the stats for label, creating them. e.mu must be
// held.
func (e *Engine) statsLocked(label string) *labelStats {
	s, ok := e.labels[label]
	if !ok {
		s = &labelStats{buckets: make([]uint64, len(DurationBuckets))}
		e.labels[label] = s
	}
	return s
}

func (e *Engine) SampleValue(name string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.samples[name]
	if !ok {
		e.samples[name] = &sampleStats{count: 1, sum: value, min: value, max: value}
		return
	}
	s.count++
	s.sum += value
	s.min = min(s.min, value)
	s.max = max(s.max, value)
}

func (e *Engine) RegisterThread(id int, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads[id] = name
	e.registered++
}

func (e *Engine) ExitThread(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.threads, id)
	e.exited++
}

// Describe implements prometheus.Collector.
func (e *Engine) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.programDesc
	ch <- e.callsDesc
	ch <- e.yieldsDesc
	ch <- e.durationDesc
	ch <- e.childrenDesc
	ch <- e.openDesc
	ch <- e.sampleCntDesc
	ch <- e.sampleSumDesc
	ch <- e.sampleMinDesc
	ch <- e.sampleMaxDesc
	ch <- e.threadDesc
	ch <- e.threadsDesc
	ch <- e.exitedDesc
}

// Collect implements prometheus.Collector.
func (e *Engine) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		ch <- prometheus.MustNewConstMetric(e.programDesc, prometheus.GaugeValue, 1,
			e.program, strconv.Itoa(e.node), strconv.Itoa(e.threadCount))
	}

	for label, s := range e.labels {
		if s.count > 0 {
			cumulative := make(map[float64]uint64, len(DurationBuckets))
			var running uint64
			for i, bound := range DurationBuckets {
				running += s.buckets[i]
				cumulative[bound] = running
			}
			ch <- prometheus.MustNewConstHistogram(e.durationDesc, s.count, s.sum, cumulative, label)
			ch <- prometheus.MustNewConstMetric(e.callsDesc, prometheus.CounterValue, float64(s.calls), label)
			ch <- prometheus.MustNewConstMetric(e.yieldsDesc, prometheus.CounterValue, float64(s.yields), label)
		}
		if s.children > 0 {
			ch <- prometheus.MustNewConstMetric(e.childrenDesc, prometheus.CounterValue, float64(s.children), label)
		}
	}
	ch <- prometheus.MustNewConstMetric(e.openDesc, prometheus.GaugeValue, float64(e.intervals.Len()))

	for name, s := range e.samples {
		ch <- prometheus.MustNewConstMetric(e.sampleCntDesc, prometheus.CounterValue, float64(s.count), name)
		ch <- prometheus.MustNewConstMetric(e.sampleSumDesc, prometheus.GaugeValue, s.sum, name)
		ch <- prometheus.MustNewConstMetric(e.sampleMinDesc, prometheus.GaugeValue, s.min, name)
		ch <- prometheus.MustNewConstMetric(e.sampleMaxDesc, prometheus.GaugeValue, s.max, name)
	}

	for id, name := range e.threads {
		ch <- prometheus.MustNewConstMetric(e.threadDesc, prometheus.GaugeValue, 1, strconv.Itoa(id), name)
	}
	ch <- prometheus.MustNewConstMetric(e.threadsDesc, prometheus.CounterValue, float64(e.registered))
	ch <- prometheus.MustNewConstMetric(e.exitedDesc, prometheus.CounterValue, float64(e.exited))
}

// Open returns the number of intervals started and not stopped.
func (e *Engine) Open() int { return e.intervals.Len() }
