package automation

import (
	"context"
	"sort"
)

// HighPriorityThreshold is the rule priority at or above which a match
// stops evaluation of lower-priority rules for the same message.
const HighPriorityThreshold = 8

// Evaluate decides whether the rule matches the message. Disabled
// rules never match and never trigger an AI call. If the rule needs an
// analysis and none was supplied, the analyzer is invoked once; the
// returned analysis is shared by the rest of the evaluate+execute
// cycle so a rule costs at most one AI call per message.
func (r *Rule) Evaluate(ctx context.Context, msg Message, analysis *Analysis, analyzer Analyzer) (bool, *Analysis) {
	if !r.Enabled {
		return false, analysis
	}

	if r.RequiresAI() && analysis == nil && analyzer != nil {
		analysis = SafeAnalyze(ctx, analyzer, msg)
	}

	if !r.Trigger.gate(msg, analysis) {
		return false, analysis
	}

	// AND semantics; an empty condition list matches once the gate passes.
	for _, cond := range r.Trigger.Conditions {
		if !evaluateCondition(cond, msg, analysis) {
			return false, analysis
		}
	}

	return true, analysis
}

// gate is the coarse per-kind filter checked before any conditions.
func (t Trigger) gate(msg Message, analysis *Analysis) bool {
	switch t.Kind {
	case TriggerMessageReceived, TriggerTimeBased:
		return true
	case TriggerEmailReceived:
		return msg.Channel == "email" || msg.Subject != ""
	case TriggerKeywordMatch:
		return msg.Content != ""
	case TriggerAIAnalysis:
		return analysis != nil
	case TriggerChannel:
		return msg.Channel != ""
	}
	return false
}

// Execute dispatches the rule's actions, ascending by action priority,
// through the executor's batch call. The executor owns per-action
// error isolation; Execute itself never returns an error. The caller
// is responsible for stats bookkeeping from the returned results.
func (r *Rule) Execute(ctx context.Context, msg Message, analysis *Analysis, executor Executor) []ActionResult {
	actions := make([]Action, len(r.Actions))
	copy(actions, r.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})

	ectx := &ExecutionContext{
		TenantID: r.TenantID,
		Message:  msg,
		Analysis: analysis,
		RuleID:   r.ID,
		RuleName: r.Name,
	}

	return executor.ExecuteActions(ctx, actions, ectx)
}

// sortRules orders rules for evaluation: descending priority, then
// ascending rule id as the deterministic tie-break.
func sortRules(rules []*Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
