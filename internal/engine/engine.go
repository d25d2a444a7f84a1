// Package engine defines the measurement engine the adapter feeds, and a
// fan-out implementation for running several engines side by side.
package engine

// IntervalHandle identifies one measured interval inside an Engine. The
// zero value means "no interval" and is used for root intervals' parent.
type IntervalHandle uint64

// Engine aggregates the intervals and samples produced by the adapter.
//
// Start, Resume, Yield and Stop for one interval are never called
// concurrently, but calls for different intervals arrive from many
// threads at once. Init and Finalize are each called exactly once.
type Engine interface {
	Init(programName string, nodeID, threadCount int) error
	Finalize() error

	// Start begins timing a new interval whose logical ancestor is parent.
	Start(label string, id uint64, parent IntervalHandle) IntervalHandle
	// Resume continues an interval suspended by Yield.
	Resume(h IntervalHandle)
	// Yield suspends a running interval without ending it.
	Yield(h IntervalHandle)
	// Stop ends the interval; h is invalid afterwards.
	Stop(h IntervalHandle)

	// SampleValue records one discrete observation outside the interval
	// hierarchy.
	SampleValue(name string, value float64)

	RegisterThread(id int, name string)
	ExitThread(id int)
}
