package omp

// LookupFunc resolves a runtime entry point by name. It returns nil for
// names the runtime does not provide.
type LookupFunc func(name string) any

// Runtime entry points a tool may look up.
type (
	FinalizeToolFunc          func()
	SetCallbackFunc           func(event Callback, callback any) SetResult
	GetCallbackFunc           func(event Callback) (any, bool)
	GetTaskInfoFunc           func(ancestorLevel int) (info TaskInfo, ok bool)
	GetTaskMemoryFunc         func(block int) (addr uintptr, size uint64, more bool)
	GetThreadDataFunc         func() *Data
	GetParallelInfoFunc       func(ancestorLevel int) (parallel *Data, teamSize int, ok bool)
	GetUniqueIDFunc           func() uint64
	GetNumPlacesFunc          func() int
	GetNumDevicesFunc         func() int
	GetNumProcsFunc           func() int
	GetPlaceProcIDsFunc       func(placeNum int) []int
	GetPlaceNumFunc           func() int
	GetPartitionPlaceNumsFunc func() []int
	GetProcIDFunc             func() int
	GetTargetInfoFunc         func() (deviceNum int, targetID uint64, hostOpID uint64, ok bool)
	// EnumerateStatesFunc walks the runtime's states: start from
	// StateUndefined and stop when ok is false.
	EnumerateStatesFunc func(current int) (next int, name string, ok bool)
	// EnumerateMutexImplsFunc walks mutex implementations the same way,
	// starting from 0.
	EnumerateMutexImplsFunc func(current int) (next int, name string, ok bool)
)

// TaskInfo is what ompt_get_task_info reports about one ancestor task.
type TaskInfo struct {
	Flags     TaskFlag
	Task      *Data
	Parallel  *Data
	ThreadNum int
}

// Capabilities holds the runtime entry points resolved at initialization.
// Any field may be nil; a nil field means the feature is unsupported.
type Capabilities struct {
	FinalizeTool          FinalizeToolFunc
	SetCallback           SetCallbackFunc
	GetCallback           GetCallbackFunc
	GetTaskInfo           GetTaskInfoFunc
	GetTaskMemory         GetTaskMemoryFunc
	GetThreadData         GetThreadDataFunc
	GetParallelInfo       GetParallelInfoFunc
	GetUniqueID           GetUniqueIDFunc
	GetNumPlaces          GetNumPlacesFunc
	GetNumDevices         GetNumDevicesFunc
	GetNumProcs           GetNumProcsFunc
	GetPlaceProcIDs       GetPlaceProcIDsFunc
	GetPlaceNum           GetPlaceNumFunc
	GetPartitionPlaceNums GetPartitionPlaceNumsFunc
	GetProcID             GetProcIDFunc
	GetTargetInfo         GetTargetInfoFunc
	EnumerateStates       EnumerateStatesFunc
	EnumerateMutexImpls   EnumerateMutexImplsFunc
}

// capability binds one lookup name to its Capabilities field. bind reports
// false when fn is nil or has the wrong type.
type capability struct {
	name string
	bind func(c *Capabilities, fn any) bool
}

var capabilityTable = []capability{
	{"ompt_finalize_tool", func(c *Capabilities, fn any) (ok bool) { c.FinalizeTool, ok = fn.(FinalizeToolFunc); return }},
	{"ompt_set_callback", func(c *Capabilities, fn any) (ok bool) { c.SetCallback, ok = fn.(SetCallbackFunc); return }},
	{"ompt_get_callback", func(c *Capabilities, fn any) (ok bool) { c.GetCallback, ok = fn.(GetCallbackFunc); return }},
	{"ompt_get_task_info", func(c *Capabilities, fn any) (ok bool) { c.GetTaskInfo, ok = fn.(GetTaskInfoFunc); return }},
	{"ompt_get_task_memory", func(c *Capabilities, fn any) (ok bool) { c.GetTaskMemory, ok = fn.(GetTaskMemoryFunc); return }},
	{"ompt_get_thread_data", func(c *Capabilities, fn any) (ok bool) { c.GetThreadData, ok = fn.(GetThreadDataFunc); return }},
	{"ompt_get_parallel_info", func(c *Capabilities, fn any) (ok bool) { c.GetParallelInfo, ok = fn.(GetParallelInfoFunc); return }},
	{"ompt_get_unique_id", func(c *Capabilities, fn any) (ok bool) { c.GetUniqueID, ok = fn.(GetUniqueIDFunc); return }},
	{"ompt_get_num_places", func(c *Capabilities, fn any) (ok bool) { c.GetNumPlaces, ok = fn.(GetNumPlacesFunc); return }},
	{"ompt_get_num_devices", func(c *Capabilities, fn any) (ok bool) { c.GetNumDevices, ok = fn.(GetNumDevicesFunc); return }},
	{"ompt_get_num_procs", func(c *Capabilities, fn any) (ok bool) { c.GetNumProcs, ok = fn.(GetNumProcsFunc); return }},
	{"ompt_get_place_proc_ids", func(c *Capabilities, fn any) (ok bool) { c.GetPlaceProcIDs, ok = fn.(GetPlaceProcIDsFunc); return }},
	{"ompt_get_place_num", func(c *Capabilities, fn any) (ok bool) { c.GetPlaceNum, ok = fn.(GetPlaceNumFunc); return }},
	{"ompt_get_partition_place_nums", func(c *Capabilities, fn any) (ok bool) {
		c.GetPartitionPlaceNums, ok = fn.(GetPartitionPlaceNumsFunc)
		return
	}},
	{"ompt_get_proc_id", func(c *Capabilities, fn any) (ok bool) { c.GetProcID, ok = fn.(GetProcIDFunc); return }},
	{"ompt_get_target_info", func(c *Capabilities, fn any) (ok bool) { c.GetTargetInfo, ok = fn.(GetTargetInfoFunc); return }},
	{"ompt_enumerate_states", func(c *Capabilities, fn any) (ok bool) { c.EnumerateStates, ok = fn.(EnumerateStatesFunc); return }},
	{"ompt_enumerate_mutex_impls", func(c *Capabilities, fn any) (ok bool) {
		c.EnumerateMutexImpls, ok = fn.(EnumerateMutexImplsFunc)
		return
	}},
}

// CapabilityNames lists every name ResolveCapabilities asks for, in lookup
// order.
func CapabilityNames() []string {
	names := make([]string, len(capabilityTable))
	for i, c := range capabilityTable {
		names[i] = c.name
	}
	return names
}

// ResolveCapabilities looks up every known entry point once. It never
// fails: names the runtime does not provide, or provides with an
// unexpected type, are returned in missing and left nil.
func ResolveCapabilities(lookup LookupFunc) (caps *Capabilities, missing []string) {
	caps = &Capabilities{}
	for _, c := range capabilityTable {
		var fn any
		if lookup != nil {
			fn = lookup(c.name)
		}
		if !c.bind(caps, fn) {
			missing = append(missing, c.name)
		}
	}
	return caps, missing
}

// States returns the runtime's state names keyed by value, or nil when the
// runtime cannot enumerate them.
func (c *Capabilities) States() map[int]string {
	if c == nil || c.EnumerateStates == nil {
		return nil
	}
	states := make(map[int]string)
	for next, name, ok := c.EnumerateStates(StateUndefined); ok; next, name, ok = c.EnumerateStates(next) {
		states[next] = name
	}
	return states
}

// MutexImpls returns the runtime's mutex implementation names keyed by
// value, or nil when unsupported.
func (c *Capabilities) MutexImpls() map[int]string {
	if c == nil || c.EnumerateMutexImpls == nil {
		return nil
	}
	impls := make(map[int]string)
	for next, name, ok := c.EnumerateMutexImpls(0); ok; next, name, ok = c.EnumerateMutexImpls(next) {
		impls[next] = name
	}
	return impls
}
