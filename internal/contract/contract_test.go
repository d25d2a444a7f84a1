//go:build !omptdebug

package contract

import "testing"

func TestViolationCountsWithoutPanicking(t *testing.T) {
	before := Violations()
	Violation("test", "double finalize of context %d", 7)
	Violation("test", "start on running context")
	if got := Violations() - before; got != 2 {
		t.Errorf("Violations() grew by %d, want 2", got)
	}
}
