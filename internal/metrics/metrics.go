package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts reconciliation ticks by result.
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetbot_ticks_total",
			Help: "The total number of reconciliation ticks.",
		},
		[]string{"result"},
	)

	// TickDuration is a histogram of the time one reconciliation tick takes.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheetbot_tick_duration_seconds",
			Help:    "A histogram of the reconciliation tick duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	// DispatchOutcomes counts dispatch attempts by outcome.
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetbot_dispatch_outcomes_total",
			Help: "The total number of dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// DuplicatesSuppressed counts sends skipped because the ledger already had them.
	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetbot_duplicates_suppressed_total",
			Help: "The total number of sends suppressed by the dispatch ledger.",
		},
	)

	// MalformedRows counts schedule rows skipped because they could not be parsed.
	MalformedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetbot_malformed_rows_total",
			Help: "The total number of malformed schedule rows skipped.",
		},
	)

	// StoreCalls counts row store calls by operation and result.
	StoreCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetbot_store_calls_total",
			Help: "The total number of row store calls.",
		},
		[]string{"op", "result"},
	)

	// StoreCallDuration is a histogram of row store call latency.
	StoreCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetbot_store_call_duration_seconds",
			Help:    "A histogram of the row store call duration.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// StreakTransitions counts streak updates by transition kind.
	StreakTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetbot_streak_transitions_total",
			Help: "The total number of streak transitions.",
		},
		[]string{"transition"},
	)

	// CommandsTotal counts chat commands by name and result.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetbot_commands_total",
			Help: "The total number of chat commands handled.",
		},
		[]string{"command", "result"},
	)

	// UnitRestarts counts supervised unit restarts.
	UnitRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetbot_unit_restarts_total",
			Help: "The total number of supervised unit restarts.",
		},
		[]string{"unit"},
	)

	// TasksDropped counts worker pool submissions rejected by backpressure.
	TasksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetbot_tasks_dropped_total",
			Help: "The total number of tasks rejected because a worker queue was full.",
		},
	)

	// TasksInFlight is a gauge that shows the number of tasks currently being processed.
	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheetbot_tasks_in_flight",
			Help: "The number of worker tasks currently being executed.",
		},
	)

	// TasksFailed counts worker tasks that failed every attempt.
	TasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetbot_tasks_failed_total",
			Help: "The total number of worker tasks that failed every attempt.",
		},
	)

	// DeadLetters is the number of failed tasks the worker pool retains.
	DeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheetbot_dead_letters",
			Help: "The number of failed worker tasks currently retained.",
		},
	)
)
