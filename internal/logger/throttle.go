package logger

import (
	"sync/atomic"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

// Throttled is a component logger for code that runs once per runtime
// event. Entries over the hot path rate are dropped and counted; the next
// entry let through carries the count as "suppressed".
type Throttled struct {
	log        log.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottledLoggerWithContext is NewLoggerWithContext limited to the
// rate set by ConfigureLogging.
func NewThrottledLoggerWithContext(component string) *Throttled {
	hotPathMu.RLock()
	cfg := hotPath
	hotPathMu.RUnlock()

	def := defaultHotPath()
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = def.PerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &Throttled{
		log:     NewLoggerWithContext(component),
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
	}
}

func (t *Throttled) Warn() *log.Entry  { return t.entry(log.WarnLevel) }
func (t *Throttled) Error() *log.Entry { return t.entry(log.ErrorLevel) }

// entry returns nil, which phuslu/log treats as a no-op, when the level is
// disabled or the limiter refuses.
func (t *Throttled) entry(level log.Level) *log.Entry {
	if t.log.Level > level {
		return nil
	}
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return nil
	}
	e := t.log.WithLevel(level)
	if n := t.suppressed.Swap(0); n > 0 {
		e = e.Uint64("suppressed", n)
	}
	return e
}

// Suppressed returns the entries dropped since the last one let through.
func (t *Throttled) Suppressed() uint64 { return t.suppressed.Load() }
