// Package contract reports broken protocol assumptions between the runtime
// and the adapter: double finalization, starting a running interval, an
// empty slot where the runtime guarantees a context.
//
// Builds tagged omptdebug panic on the first violation. All other builds
// log it, count it and return, so the profiled program is never disturbed.
package contract

import (
	"fmt"
	"sync/atomic"

	"github.com/phuslu/log"
)

var violations atomic.Uint64

// Violation records one broken assumption detected by component.
func Violation(component, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	violations.Add(1)
	if halt {
		panic(component + ": protocol violation: " + msg)
	}
	log.Error().Str("component", component).Msg("protocol violation: " + msg)
}

// Violations returns the number of violations seen by this process.
func Violations() uint64 {
	return violations.Load()
}

// Halting reports whether this build panics on violations.
func Halting() bool {
	return halt
}
