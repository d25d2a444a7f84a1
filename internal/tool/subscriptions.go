package tool

import (
	"ompt_exporter/internal/config"
	"ompt_exporter/internal/omp"
)

// SubscriptionGroup defines a set of callbacks subscribed together
type SubscriptionGroup struct {
	Name      string         // descriptive name
	Callbacks []omp.Callback // registered in this order
	// Function to check if this group is enabled based on config
	IsEnabled func(config *config.AdapterConfig) bool
}

// AllSubscriptionGroups contains every group in registration order
var AllSubscriptionGroups = []*SubscriptionGroup{
	// Always on. Every runtime supports these.
	{
		Name: "mandatory",
		Callbacks: []omp.Callback{
			omp.CallbackThreadBegin,
			omp.CallbackThreadEnd,
			omp.CallbackParallelBegin,
			omp.CallbackParallelEnd,
		},
		IsEnabled: func(config *config.AdapterConfig) bool {
			return true
		},
	},

	// Task events fire far more often than region events.
	{
		Name: "tasking",
		Callbacks: []omp.Callback{
			omp.CallbackTaskCreate,
			omp.CallbackTaskSchedule,
			omp.CallbackImplicitTask,
		},
		IsEnabled: func(config *config.AdapterConfig) bool {
			return config.HighOverheadEvents
		},
	},

	{
		Name: "constructs",
		Callbacks: []omp.Callback{
			omp.CallbackWork,
			omp.CallbackMaster,
			omp.CallbackFlush,
			omp.CallbackCancel,
		},
		IsEnabled: func(config *config.AdapterConfig) bool {
			return !config.RequiredEventsOnly
		},
	},

	{
		Name: "synchronization",
		Callbacks: []omp.Callback{
			omp.CallbackSyncRegionWait,
			omp.CallbackSyncRegion,
		},
		IsEnabled: func(config *config.AdapterConfig) bool {
			return !config.RequiredEventsOnly && config.HighOverheadEvents
		},
	},
}

// GetEnabledGroups returns all enabled subscription groups
func GetEnabledGroups(config *config.AdapterConfig) []*SubscriptionGroup {
	var enabled []*SubscriptionGroup
	for _, group := range AllSubscriptionGroups {
		if group.IsEnabled(config) {
			enabled = append(enabled, group)
		}
	}
	return enabled
}

// GetEnabledCallbacks returns the callbacks of every enabled group, in
// registration order
func GetEnabledCallbacks(config *config.AdapterConfig) []omp.Callback {
	var callbacks []omp.Callback
	for _, group := range GetEnabledGroups(config) {
		callbacks = append(callbacks, group.Callbacks...)
	}
	return callbacks
}
