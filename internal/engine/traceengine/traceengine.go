// Package traceengine is a measurement engine that records every running
// segment of every interval and writes them out as a Chrome Trace Event
// Format file on Finalize.
package traceengine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/phuslu/log"
	"github.com/rs/xid"

	"ompt_exporter/internal/engine"
	"ompt_exporter/internal/logger"
	"ompt_exporter/internal/maps"
	"ompt_exporter/internal/threads"
)

// EventType is a Trace Event Format phase.
type EventType string

const (
	TypeComplete EventType = "X"
	TypeCounter  EventType = "C"
	TypeMetadata EventType = "M"
)

// Event is one Trace Event Format record. Timestamps are microseconds
// since Init.
type Event struct {
	Name      string         `json:"name"`
	Phase     EventType      `json:"ph"`
	ProcessID int            `json:"pid"`
	ThreadID  int            `json:"tid"`
	TimeStamp float64        `json:"ts"`
	Duration  float64        `json:"dur,omitempty"`
	Category  string         `json:"cat,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// Profile is the file layout.
type Profile struct {
	TraceEvents     []Event `json:"traceEvents"`
	DisplayTimeUnit string  `json:"displayTimeUnit"`
	OtherData       struct {
		TraceID  string `json:"trace_id"`
		Program  string `json:"program"`
		Node     int    `json:"node"`
		Threads  int    `json:"threads"`
		Dropped  uint64 `json:"dropped_events"`
		Finished string `json:"finished"`
	} `json:"otherData"`
}

// Config controls where and how much is recorded.
type Config struct {
	// Path of the output file. Empty picks ompt_trace_<id>.json in the
	// working directory.
	Path string
	// MaxEvents caps the buffered events; later events are counted and
	// dropped. Zero means unlimited.
	MaxEvents int
}

type span struct {
	label  string
	id     uint64
	parent engine.IntervalHandle
	start  time.Time // zero while suspended
	tid    int
}

// Engine implements engine.Engine.
type Engine struct {
	cfg      Config
	now      func() time.Time
	threadID func() int
	log      log.Logger

	next  atomic.Uint64
	spans maps.ConcurrentMap[engine.IntervalHandle, *span]

	mu          sync.Mutex
	traceID     xid.ID
	base        time.Time
	program     string
	node        int
	threadCount int
	initialized bool
	finalized   bool
	events      []Event
	dropped     uint64
	written     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithThreadID replaces the OS thread id lookup used for the tid field.
func WithThreadID(fn func() int) Option {
	return func(e *Engine) { e.threadID = fn }
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		now:      time.Now,
		threadID: threads.OSThreadID,
		log:      logger.NewLoggerWithContext("traceengine"),
		spans:    maps.NewConcurrentMap[engine.IntervalHandle, *span](),
		traceID:  xid.New(),
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
		return errors.New("traceengine: already initialized")
	}
	e.initialized = true
	e.base = e.now()
	e.program, e.node, e.threadCount = programName, nodeID, threadCount
	e.appendLocked(Event{
		Name:      "process_name",
		Phase:     TypeMetadata,
		ProcessID: nodeID,
		Args:      map[string]any{"name": programName},
	})
	e.log.Info().Str("trace_id", e.traceID.String()).Str("program", programName).Msg("Trace recording started")
	return nil
}

// appendLocked buffers ev unless the cap is reached. e.mu must be held.
func (e *Engine) appendLocked(ev Event) {
	if e.cfg.MaxEvents > 0 && len(e.events) >= e.cfg.MaxEvents {
		if e.dropped == 0 {
			e.log.Warn().Int("max_events", e.cfg.MaxEvents).Msg("Trace event cap reached, dropping further events")
		}
		e.dropped++
		return
	}
	e.events = append(e.events, ev)
}

func (e *Engine) micros(t time.Time) float64 {
	return float64(t.Sub(e.base).Nanoseconds()) / 1e3
}

// segment records the running stretch of sp ending at end.
func (e *Engine) segment(h engine.IntervalHandle, sp *span, end time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	args := map[string]any{"interval": uint64(h), "id": sp.id}
	if sp.parent != 0 {
		args["parent"] = uint64(sp.parent)
	}
	e.appendLocked(Event{
		Name:      sp.label,
		Phase:     TypeComplete,
		ProcessID: e.node,
		ThreadID:  sp.tid,
		TimeStamp: e.micros(sp.start),
		Duration:  float64(end.Sub(sp.start).Nanoseconds()) / 1e3,
		Category:  "ompt",
		Args:      args,
	})
}

func (e *Engine) Start(label string, id uint64, parent engine.IntervalHandle) engine.IntervalHandle {
	h := engine.IntervalHandle(e.next.Add(1))
	e.spans.Store(h, &span{label: label, id: id, parent: parent, start: e.now(), tid: e.threadID()})
	return h
}

func (e *Engine) Resume(h engine.IntervalHandle) {
	sp, ok := e.spans.Load(h)
	if !ok || !sp.start.IsZero() {
		e.log.Warn().Uint64("interval", uint64(h)).Msg("Resume of an interval that is not suspended")
		return
	}
	sp.start = e.now()
	sp.tid = e.threadID()
}

func (e *Engine) Yield(h engine.IntervalHandle) {
	sp, ok := e.spans.Load(h)
	if !ok || sp.start.IsZero() {
		e.log.Warn().Uint64("interval", uint64(h)).Msg("Yield of an interval that is not running")
		return
	}
	e.segment(h, sp, e.now())
	sp.start = time.Time{}
}

func (e *Engine) Stop(h engine.IntervalHandle) {
	sp, ok := e.spans.LoadAndDelete(h)
	if !ok {
		e.log.Warn().Uint64("interval", uint64(h)).Msg("Stop of an unknown interval")
		return
	}
	if !sp.start.IsZero() {
		e.segment(h, sp, e.now())
	}
}

func (e *Engine) SampleValue(name string, value float64) {
	ts := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(Event{
		Name:      name,
		Phase:     TypeCounter,
		ProcessID: e.node,
		TimeStamp: e.micros(ts),
		Args:      map[string]any{"value": value},
	})
}

// RegisterThread runs on the thread being registered, so the OS thread id
// taken here matches the tid of the segments that thread produces.
func (e *Engine) RegisterThread(id int, name string) {
	tid := e.threadID()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(Event{
		Name:      "thread_name",
		Phase:     TypeMetadata,
		ProcessID: e.node,
		ThreadID:  tid,
		Args:      map[string]any{"name": fmt.Sprintf("%s %d", name, id)},
	})
}

func (e *Engine) ExitThread(id int) {}

// Finalize writes the trace file.
func (e *Engine) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return errors.New("traceengine: finalize before init")
	}
	if e.finalized {
		return errors.New("traceengine: already finalized")
	}
	e.finalized = true

	if open := e.spans.Len(); open > 0 {
		e.log.Warn().Int("open", open).Msg("Intervals still open at finalize, not written")
	}

	path := e.cfg.Path
	if path == "" {
		path = "ompt_trace_" + e.traceID.String() + ".json"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	if err := e.writeLocked(f); err != nil {
		f.Close()
		return fmt.Errorf("write trace file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close trace file %s: %w", path, err)
	}
	e.written = path
	e.log.Info().Str("path", path).Int("events", len(e.events)).Uint64("dropped", e.dropped).Msg("Trace written")
	return nil
}

func (e *Engine) writeLocked(w io.Writer) error {
	var p Profile
	p.TraceEvents = e.events
	p.DisplayTimeUnit = "ns"
	p.OtherData.TraceID = e.traceID.String()
	p.OtherData.Program = e.program
	p.OtherData.Node = e.node
	p.OtherData.Threads = e.threadCount
	p.OtherData.Dropped = e.dropped
	p.OtherData.Finished = e.now().UTC().Format(time.RFC3339)
	return json.NewEncoder(w).Encode(&p)
}

// Encode writes the events recorded so far to w.
func (e *Engine) Encode(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeLocked(w)
}

// Events returns a copy of the buffered events.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Dropped is the number of events discarded past MaxEvents.
func (e *Engine) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Path is the file written by Finalize, or empty before.
func (e *Engine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}

// TraceID identifies this recording.
func (e *Engine) TraceID() string { return e.traceID.String() }
