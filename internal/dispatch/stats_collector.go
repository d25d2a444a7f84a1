package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"ompt_exporter/internal/contract"
)

// StatsCollector implements prometheus.Collector for the adapter's own
// health: events seen, events dropped after shutdown, context and thread
// bookkeeping, and protocol violations.
type StatsCollector struct {
	d *Dispatcher

	eventsDesc          *prometheus.Desc
	droppedDesc         *prometheus.Desc
	unknownStatusDesc   *prometheus.Desc
	unmatchedEndsDesc   *prometheus.Desc
	liveContextsDesc    *prometheus.Desc
	createdDesc         *prometheus.Desc
	finalizedDesc       *prometheus.Desc
	violationsDesc      *prometheus.Desc
	threadsAssignedDesc *prometheus.Desc
	threadsLiveDesc     *prometheus.Desc
}

// NewStatsCollector creates a collector reading d's counters on scrape.
func NewStatsCollector(d *Dispatcher) *StatsCollector {
	return &StatsCollector{
		d: d,
		eventsDesc: prometheus.NewDesc(
			"ompt_dispatch_events_total",
			"Total number of runtime callbacks handled, by callback.",
			[]string{"callback"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			"ompt_dispatch_dropped_events_total",
			"Total number of callbacks that arrived after the tool stopped.",
			nil, nil,
		),
		unknownStatusDesc: prometheus.NewDesc(
			"ompt_dispatch_unknown_task_status_total",
			"Total number of task_schedule events with an unrecognized prior task status.",
			nil, nil,
		),
		unmatchedEndsDesc: prometheus.NewDesc(
			"ompt_dispatch_unmatched_ends_total",
			"Total number of end events whose slot held no context.",
			nil, nil,
		),
		liveContextsDesc: prometheus.NewDesc(
			"ompt_timer_live_contexts",
			"Current number of Timing Contexts not yet finalized.",
			nil, nil,
		),
		createdDesc: prometheus.NewDesc(
			"ompt_timer_contexts_created_total",
			"Total number of Timing Contexts created.",
			nil, nil,
		),
		finalizedDesc: prometheus.NewDesc(
			"ompt_timer_contexts_finalized_total",
			"Total number of Timing Contexts finalized.",
			nil, nil,
		),
		violationsDesc: prometheus.NewDesc(
			"ompt_contract_violations_total",
			"Total number of runtime protocol violations detected.",
			nil, nil,
		),
		threadsAssignedDesc: prometheus.NewDesc(
			"ompt_threads_assigned_total",
			"Total number of thread ids handed out.",
			nil, nil,
		),
		threadsLiveDesc: prometheus.NewDesc(
			"ompt_threads_live",
			"Current number of runtime threads that have not ended.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventsDesc
	ch <- c.droppedDesc
	ch <- c.unknownStatusDesc
	ch <- c.unmatchedEndsDesc
	ch <- c.liveContextsDesc
	ch <- c.createdDesc
	ch <- c.finalizedDesc
	ch <- c.violationsDesc
	ch <- c.threadsAssignedDesc
	ch <- c.threadsLiveDesc
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for cb, n := range c.d.EventCounts() {
		ch <- prometheus.MustNewConstMetric(c.eventsDesc, prometheus.CounterValue, float64(n), cb.String())
	}
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.d.Dropped()))
	ch <- prometheus.MustNewConstMetric(c.unknownStatusDesc, prometheus.CounterValue, float64(c.d.UnknownStatuses()))
	ch <- prometheus.MustNewConstMetric(c.unmatchedEndsDesc, prometheus.CounterValue, float64(c.d.UnmatchedEnds()))

	arena := c.d.Arena()
	ch <- prometheus.MustNewConstMetric(c.liveContextsDesc, prometheus.GaugeValue, float64(arena.Live()))
	ch <- prometheus.MustNewConstMetric(c.createdDesc, prometheus.CounterValue, float64(arena.Created()))
	ch <- prometheus.MustNewConstMetric(c.finalizedDesc, prometheus.CounterValue, float64(arena.Finalized()))

	ch <- prometheus.MustNewConstMetric(c.violationsDesc, prometheus.CounterValue, float64(contract.Violations()))

	reg := c.d.Threads()
	ch <- prometheus.MustNewConstMetric(c.threadsAssignedDesc, prometheus.CounterValue, float64(reg.Count()))
	ch <- prometheus.MustNewConstMetric(c.threadsLiveDesc, prometheus.GaugeValue, float64(len(reg.Live())))
}
