package automation

import "time"

// engineMetrics is the per-engine in-memory counter set. All mutation
// happens under the engine's lock; snapshot copies it out for readers.
// Counters reset with the process; they are observability, not audit.
type engineMetrics struct {
	rulesExecuted    int64
	actionsTriggered int64
	aiAnalysisCount  int64
	samples          int64   // ProcessMessage cycles that executed at least one rule
	successRate      float64 // rolling, 0-100
	avgExecMS        float64 // rolling, milliseconds per executed rule
	lastExecutionAt  time.Time
}

// recordCycle folds one ProcessMessage cycle into the counters. Called
// once per cycle, not per rule; cycles with no matched rule leave the
// rolling averages untouched.
func (m *engineMetrics) recordCycle(executed, succeeded, actions int, ruleTime time.Duration) {
	if executed == 0 {
		return
	}
	m.rulesExecuted += int64(executed)
	m.actionsTriggered += int64(actions)
	m.lastExecutionAt = time.Now()
	m.samples++

	rate := 100.0 * float64(succeeded) / float64(executed)
	avgMS := float64(ruleTime.Milliseconds()) / float64(executed)
	n := float64(m.samples)
	m.successRate += (rate - m.successRate) / n
	m.avgExecMS += (avgMS - m.avgExecMS) / n
}

func (m *engineMetrics) snapshot(tenantID string, activeRules int) Metrics {
	return Metrics{
		TenantID:         tenantID,
		RulesExecuted:    m.rulesExecuted,
		ActionsTriggered: m.actionsTriggered,
		SuccessRate:      m.successRate,
		AvgExecutionTime: m.avgExecMS,
		AIAnalysisCount:  m.aiAnalysisCount,
		LastExecutionAt:  m.lastExecutionAt,
		ActiveRules:      activeRules,
	}
}
