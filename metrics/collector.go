package metrics

// Collector wraps metrics and provides helper methods with the
// migration label pre-filled.
type Collector struct {
	migration string
}

// NewCollector creates a new Collector for the given migration.
func NewCollector(migration string) *Collector {
	return &Collector{migration: migration}
}

// IncPhaseTransition increments the phase transitions counter.
func (c *Collector) IncPhaseTransition(phase, status string) {
	PhaseTransitionsTotal.WithLabelValues(c.migration, phase, status).Inc()
}

// IncRunFinished increments the finished-runs counter for an outcome
// (completed, rolled_back, failed).
func (c *Collector) IncRunFinished(outcome string) {
	RunsFinishedTotal.WithLabelValues(c.migration, outcome).Inc()
}

// IncRollback increments the rollbacks counter.
func (c *Collector) IncRollback() {
	RollbacksTotal.WithLabelValues(c.migration).Inc()
}

// IncValidationFailure increments the validation failures counter.
func (c *Collector) IncValidationFailure() {
	ValidationFailuresTotal.WithLabelValues(c.migration).Inc()
}

// SetBackfillProgress sets the backfill progress gauge.
func (c *Collector) SetBackfillProgress(percent float64) {
	BackfillProgress.WithLabelValues(c.migration).Set(percent)
}

// SetDualWriteTriggers sets the installed dual-write triggers gauge.
func (c *Collector) SetDualWriteTriggers(count int) {
	DualWriteTriggers.WithLabelValues(c.migration).Set(float64(count))
}

// ObservePhaseDuration records how long a phase took.
func (c *Collector) ObservePhaseDuration(phase string, seconds float64) {
	PhaseDuration.WithLabelValues(c.migration, phase).Observe(seconds)
}
