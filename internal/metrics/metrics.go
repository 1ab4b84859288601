// Package metrics exposes engine counters on a dedicated prometheus
// registry. Hosts mount the registry on whatever scrape surface they run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	// EventsProcessed counts accepted events by event type code.
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quartet",
			Subsystem: "parsing",
			Name:      "events_processed_total",
			Help:      "Events accepted by the parsing engine, by event type.",
		},
		[]string{"type"},
	)

	// ValidationFailures counts rejected events by error code.
	ValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quartet",
			Subsystem: "parsing",
			Name:      "validation_failures_total",
			Help:      "Events rejected by business-rule validation, by error code.",
		},
		[]string{"code"},
	)

	// Flushes counts committed batch flushes.
	Flushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quartet",
			Subsystem: "parsing",
			Name:      "flushes_total",
			Help:      "Batch flush transactions committed.",
		},
	)

	// EntriesCommissioned counts newly commissioned entries.
	EntriesCommissioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quartet",
			Subsystem: "ledger",
			Name:      "entries_commissioned_total",
			Help:      "Entries created by commissioning events.",
		},
	)
)

func init() {
	Registry.MustRegister(
		EventsProcessed,
		ValidationFailures,
		Flushes,
		EntriesCommissioned,
	)
}
