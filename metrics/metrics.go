package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PhaseTransitionsTotal tracks phase records written, by phase and status.
var PhaseTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_phase_transitions_total",
		Help: "Total phase transitions recorded",
	},
	[]string{"migration", "phase", "status"},
)

// RunsFinishedTotal tracks runs reaching a terminal phase, by outcome.
var RunsFinishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_runs_finished_total",
		Help: "Total runs reaching a terminal phase",
	},
	[]string{"migration", "outcome"},
)

// RollbacksTotal tracks rollbacks executed by the compensator.
var RollbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_rollbacks_total",
		Help: "Total rollbacks executed",
	},
	[]string{"migration"},
)

// ValidationFailuresTotal tracks validation gate failures.
var ValidationFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_validation_failures_total",
		Help: "Total validation gate failures",
	},
	[]string{"migration"},
)

// BackfillProgress tracks the last sampled backfill progress percent.
var BackfillProgress = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migrate_orchestrator_backfill_progress_percent",
		Help: "Last sampled backfill progress percent",
	},
	[]string{"migration"},
)

// DualWriteTriggers tracks dual-write triggers currently installed.
var DualWriteTriggers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migrate_orchestrator_dual_write_triggers",
		Help: "Dual-write triggers currently installed",
	},
	[]string{"migration"},
)

// PhaseDuration tracks wall-clock time spent in each phase.
var PhaseDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "migrate_orchestrator_phase_duration_seconds",
		Help:    "Wall-clock time spent in each phase",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
	},
	[]string{"migration", "phase"},
)
