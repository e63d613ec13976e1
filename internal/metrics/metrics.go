// Package metrics provides Prometheus instrumentation for commands and sequences.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts dispatched commands by outcome (ok, permission, invalid, error).
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_commands_total",
			Help: "Dispatched text commands",
		},
		[]string{"command", "outcome"},
	)

	// CommandDuration tracks handler execution time.
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_command_duration_seconds",
			Help:    "Command handler duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"command"},
	)

	// SequencesActive tracks live sequences.
	SequencesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_sequences_active",
			Help: "Number of live interactive sequences",
		},
	)

	// SequencesStarted counts sequences by kind.
	SequencesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_sequences_started_total",
			Help: "Interactive sequences started",
		},
		[]string{"kind"},
	)

	// SequencesFinished counts destroyed sequences by kind and reason.
	SequencesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_sequences_finished_total",
			Help: "Interactive sequences destroyed",
		},
		[]string{"kind", "reason"},
	)

	// MessagesPurged counts tracked messages removed during sequence cleanup.
	MessagesPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_messages_purged_total",
			Help: "Messages deleted by sequence cleanup",
		},
		[]string{"mode"},
	)

	// GateReviews counts gate outcomes (accepted, enqueued, approved, rejected, evicted, dropped).
	GateReviews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_gate_reviews_total",
			Help: "Gate manual review queue transitions",
		},
		[]string{"result"},
	)

	// CasesOpened counts moderation cases by action.
	CasesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_cases_opened_total",
			Help: "Moderation cases recorded",
		},
		[]string{"action"},
	)

	// EventReminders counts event reminders by outcome (sent, failed).
	EventReminders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_event_reminders_total",
			Help: "Event reminders posted",
		},
		[]string{"result"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
