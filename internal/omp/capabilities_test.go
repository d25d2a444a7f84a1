package omp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCapabilities(t *testing.T) {
	finalized := false
	table := map[string]any{
		"ompt_finalize_tool": FinalizeToolFunc(func() { finalized = true }),
		"ompt_set_callback": SetCallbackFunc(func(Callback, any) SetResult {
			return SetAlways
		}),
		"ompt_get_unique_id": GetUniqueIDFunc(func() uint64 { return 42 }),
		// Right name, wrong type: must be treated as unsupported.
		"ompt_get_num_procs": func() int { return 8 },
	}
	caps, missing := ResolveCapabilities(func(name string) any { return table[name] })

	require.NotNil(t, caps.FinalizeTool)
	require.NotNil(t, caps.SetCallback)
	require.NotNil(t, caps.GetUniqueID)
	assert.Nil(t, caps.GetNumProcs, "untyped function must not bind")
	assert.Nil(t, caps.GetThreadData)

	caps.FinalizeTool()
	assert.True(t, finalized)
	assert.Equal(t, uint64(42), caps.GetUniqueID())
	assert.Equal(t, SetAlways, caps.SetCallback(CallbackThreadBegin, nil))

	assert.Len(t, missing, len(CapabilityNames())-3)
	assert.Contains(t, missing, "ompt_get_num_procs")
	assert.NotContains(t, missing, "ompt_set_callback")
}

func TestResolveCapabilitiesNilLookup(t *testing.T) {
	caps, missing := ResolveCapabilities(nil)
	require.NotNil(t, caps)
	if diff := cmp.Diff(CapabilityNames(), missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, caps.States())
	assert.Nil(t, caps.MutexImpls())
}

func TestCapabilityEnumeration(t *testing.T) {
	states := []struct {
		value int
		name  string
	}{
		{StateWorkSerial, "ompt_state_work_serial"},
		{StateWorkParallel, "ompt_state_work_parallel"},
		{StateIdle, "ompt_state_idle"},
	}
	enumerate := EnumerateStatesFunc(func(current int) (int, string, bool) {
		idx := 0
		if current != StateUndefined {
			for i, s := range states {
				if s.value == current {
					idx = i + 1
				}
			}
		}
		if idx >= len(states) {
			return 0, "", false
		}
		return states[idx].value, states[idx].name, true
	})
	caps := &Capabilities{EnumerateStates: enumerate}

	want := map[int]string{
		StateWorkSerial:   "ompt_state_work_serial",
		StateWorkParallel: "ompt_state_work_parallel",
		StateIdle:         "ompt_state_idle",
	}
	if diff := cmp.Diff(want, caps.States()); diff != "" {
		t.Errorf("States() mismatch (-want +got):\n%s", diff)
	}
}

func TestCallbackNames(t *testing.T) {
	tests := []struct {
		cb   Callback
		name string
	}{
		{CallbackThreadBegin, "thread_begin"},
		{CallbackTaskSchedule, "task_schedule"},
		{CallbackSyncRegionWait, "sync_region_wait"},
		{CallbackCancel, "cancel"},
		{CallbackDispatch, "dispatch"},
	}
	for _, tt := range tests {
		if got := tt.cb.String(); got != tt.name {
			t.Errorf("%d.String() = %q, want %q", tt.cb, got, tt.name)
		}
		parsed, ok := ParseCallback(tt.name)
		if !ok || parsed != tt.cb {
			t.Errorf("ParseCallback(%q) = %v, %v; want %v", tt.name, parsed, ok, tt.cb)
		}
	}
	if _, ok := ParseCallback("idle"); ok {
		t.Error("ParseCallback should reject unknown names")
	}
	if got := Callback(99).String(); got != "callback(99)" {
		t.Errorf("unknown callback String() = %q", got)
	}
}

func TestTaskFlagHas(t *testing.T) {
	f := TaskExplicit | TaskUndeferred
	assert.True(t, f.Has(TaskExplicit))
	assert.True(t, f.Has(TaskUndeferred))
	assert.False(t, f.Has(TaskInitial))
	assert.False(t, f.Has(TaskExplicit|TaskFinal))
}
