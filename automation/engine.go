package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/deskflow/automation/internal/logger"
)

// Engine owns one tenant's rule set in memory and runs the
// evaluate-then-execute loop for each inbound message. Message
// processing and rule mutation are serialized by one lock, so a tenant
// never has two concurrent ProcessMessage cycles; engines for
// different tenants share nothing and run freely in parallel.
type Engine struct {
	tenantID string
	store    RuleStore
	analyzer Analyzer
	executor Executor

	mu       sync.Mutex
	rules    map[string]*Rule
	env      *cel.Env
	programs map[string]cel.Program // ruleID -> compiled trigger expression
	ordered  orderedRulesCache
	metrics  engineMetrics
}

// NewEngine builds the engine and loads the tenant's rules. If the
// store is unavailable, the engine falls back to a built-in default
// rule set so the tenant never runs with zero automation because of a
// transient storage failure.
func NewEngine(ctx context.Context, tenantID string, store RuleStore, analyzer Analyzer, executor Executor) (*Engine, error) {
	env, err := newExpressionEnv()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		tenantID: tenantID,
		store:    store,
		analyzer: analyzer,
		executor: executor,
		rules:    make(map[string]*Rule),
		env:      env,
		programs: make(map[string]cel.Program),
	}

	if err := e.LoadRules(ctx); err != nil {
		logger.Error("failed to load rules, falling back to defaults",
			"tenantId", tenantID, "error", err.Error())
		e.installDefaults()
	}

	return e, nil
}

// TenantID returns the tenant this engine serves.
func (e *Engine) TenantID() string { return e.tenantID }

// LoadRules replaces the whole in-memory rule set from the store's
// current snapshot: clear-then-repopulate, never an incremental merge.
func (e *Engine) LoadRules(ctx context.Context) error {
	rules, err := e.store.FindByTenant(ctx, e.tenantID)
	if err != nil {
		return fmt.Errorf("failed to load rules for tenant %s: %w", e.tenantID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[string]*Rule, len(rules))
	e.programs = make(map[string]cel.Program, len(rules))
	for _, rule := range rules {
		e.installLocked(rule)
	}
	e.ordered.invalidate()

	logger.Info("rules loaded", "tenantId", e.tenantID, "count", len(rules))
	return nil
}

// SyncRule refreshes a single rule from the store without disturbing
// the rest of the set. A rule missing from the store is removed from
// memory (it was deleted).
func (e *Engine) SyncRule(ctx context.Context, ruleID string) error {
	rule, err := e.store.FindByID(ctx, ruleID, e.tenantID)
	if err != nil {
		return fmt.Errorf("failed to sync rule %s: %w", ruleID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rule == nil {
		delete(e.rules, ruleID)
		delete(e.programs, ruleID)
	} else {
		e.installLocked(rule)
	}
	e.ordered.invalidate()
	return nil
}

// installLocked registers a rule and compiles its trigger expression
// if it carries one. An expression that does not compile is a
// configuration error: the rule stays installed but its expression
// gate will never pass.
func (e *Engine) installLocked(rule *Rule) {
	e.rules[rule.ID] = rule
	delete(e.programs, rule.ID)
	if rule.Trigger.Expression == "" {
		return
	}
	prog, err := compileExpression(e.env, rule.Trigger.Expression)
	if err != nil {
		logger.Warn("trigger expression failed to compile",
			"tenantId", e.tenantID, "ruleId", rule.ID, "error", err.Error())
		return
	}
	e.programs[rule.ID] = prog
}

// installDefaults loads the built-in fallback rule set.
func (e *Engine) installDefaults() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[string]*Rule)
	e.programs = make(map[string]cel.Program)
	for _, rule := range defaultRules(e.tenantID) {
		e.installLocked(rule)
	}
	e.ordered.invalidate()
}

// activeRulesLocked returns the enabled rules in evaluation order:
// descending priority, ties broken by ascending rule id.
func (e *Engine) activeRulesLocked() []*Rule {
	if cached := e.ordered.get(); cached != nil {
		return cached
	}

	active := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	sortRules(active)
	e.ordered.set(active)
	return active
}

// ProcessMessage runs one message through the rule set: at most one AI
// analysis for every AI-gated rule, evaluation in priority order,
// action dispatch for matches, stats and metrics bookkeeping. It
// always completes and returns; rule faults are isolated and logged.
func (e *Engine) ProcessMessage(ctx context.Context, msg Message) *ProcessResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	active := e.activeRulesLocked()

	result := &ProcessResult{
		TenantID: e.tenantID,
		Outcomes: make([]RuleOutcome, 0, len(active)),
	}

	// One shared analysis serves every AI-gated rule this cycle.
	var analysis *Analysis
	if e.analyzer != nil && anyRequiresAI(active) {
		analysis = SafeAnalyze(ctx, e.analyzer, msg)
		e.metrics.aiAnalysisCount++
		result.AIAnalysisUsed = true
	}

	var executed, succeeded, actions int
	var ruleTime time.Duration

	for _, rule := range active {
		if ctx.Err() != nil {
			logger.Warn("message processing deadline hit, stopping rule loop",
				"tenantId", e.tenantID, "evaluated", result.RulesEvaluated)
			break
		}

		outcome := e.runRule(ctx, rule, msg, analysis)
		result.RulesEvaluated++
		result.Outcomes = append(result.Outcomes, outcome)

		if !outcome.Matched {
			continue
		}

		result.RulesMatched++
		executed++
		actions += len(outcome.Actions)
		result.ActionsTriggered += len(outcome.Actions)
		ruleTime += outcome.Duration
		if outcome.Error == "" {
			succeeded++
		}

		if rule.Priority >= HighPriorityThreshold {
			result.ShortCircuited = true
			break
		}
	}

	e.metrics.recordCycle(executed, succeeded, actions, ruleTime)
	result.Duration = time.Since(start)
	return result
}

// runRule evaluates one rule and, on match, executes its actions. A
// fault inside the rule is captured in the outcome so the remaining
// rules still run; a matched rule whose execution faulted counts as a
// failed execution in its stats.
func (e *Engine) runRule(ctx context.Context, rule *Rule, msg Message, analysis *Analysis) (outcome RuleOutcome) {
	outcome = RuleOutcome{RuleID: rule.ID, RuleName: rule.Name}
	start := time.Now()
	executing := false

	defer func() {
		if rec := recover(); rec != nil {
			logger.RuleFailure()
			logger.Error("rule execution panicked",
				"tenantId", e.tenantID, "ruleId", rule.ID, "panic", rec)
			outcome.Error = fmt.Sprintf("rule execution panicked: %v", rec)
			outcome.Duration = time.Since(start)
			if executing {
				outcome.Matched = true
				e.recordRuleRun(ctx, rule, false)
			}
		}
	}()

	matched, resolved := rule.Evaluate(ctx, msg, analysis, e.analyzer)
	if matched && rule.Trigger.Expression != "" {
		prog, ok := e.programs[rule.ID]
		// A missing program means the expression never compiled;
		// configuration error, so the gate stays closed.
		matched = ok && evalExpression(prog, rule.ID, msg, resolved)
	}
	if !matched {
		return outcome
	}

	outcome.Matched = true
	executing = true
	outcome.Actions = rule.Execute(ctx, msg, resolved, e.executor)
	outcome.Duration = time.Since(start)

	// The batch returned without a fault: a successful execution, even
	// if individual actions inside it failed.
	e.recordRuleRun(ctx, rule, true)
	return outcome
}

// recordRuleRun updates the rule's own statistics and flushes them to
// the store. The flush is best-effort: the in-memory rule may run
// ahead of persisted stats between flushes.
func (e *Engine) recordRuleRun(ctx context.Context, rule *Rule, succeeded bool) {
	now := time.Now()
	rule.ExecutionCount++
	if succeeded {
		rule.SuccessCount++
	}
	rule.LastExecutedAt = &now

	stats := ExecutionStats{
		ExecutionCount: rule.ExecutionCount,
		SuccessCount:   rule.SuccessCount,
		LastExecutedAt: now,
	}
	if err := e.store.UpdateExecutionStats(ctx, rule.ID, e.tenantID, stats); err != nil {
		logger.Warn("failed to persist rule stats",
			"tenantId", e.tenantID, "ruleId", rule.ID, "error", err.Error())
	}
}

// TestRule dry-runs one rule against a synthetic message: no actions
// execute and no statistics are touched. Rule authors use this to
// validate configuration before enabling a rule.
func (e *Engine) TestRule(ctx context.Context, ruleID string, msg Message) (*TestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s not found", ruleID)
	}

	start := time.Now()
	result := &TestResult{RuleID: ruleID}

	// Dry runs evaluate disabled rules too; that is the whole point of
	// testing a rule before enabling it.
	probe := rule.Clone()
	probe.Enabled = true

	matched, resolved := probe.Evaluate(ctx, msg, nil, e.analyzer)
	if matched && probe.Trigger.Expression != "" {
		prog, ok := e.programs[ruleID]
		if !ok {
			result.Error = "trigger expression does not compile"
			matched = false
		} else {
			matched = evalExpression(prog, ruleID, msg, resolved)
		}
	}

	result.Matched = matched
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// Rules returns a copy of the current rule set for the admin surface.
func (e *Engine) Rules() []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return out
}

// Metrics returns a snapshot of the engine's in-memory counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.snapshot(e.tenantID, len(e.activeRulesLocked()))
}

func anyRequiresAI(rules []*Rule) bool {
	for _, rule := range rules {
		if rule.RequiresAI() {
			return true
		}
	}
	return false
}

// defaultRules is the fallback set installed when the store cannot be
// read at construction time: escalate obviously urgent messages and
// acknowledge everything else.
func defaultRules(tenantID string) []*Rule {
	return []*Rule{
		{
			ID:       "default-urgent-escalation",
			TenantID: tenantID,
			Name:     "Escalate urgent messages",
			Trigger: Trigger{
				Kind: TriggerKeywordMatch,
				Conditions: []Condition{
					{Field: FieldContent, Operator: OpContains, Value: "urgent"},
				},
			},
			Actions: []Action{
				{ID: "default-urgent-ticket", Type: "create_ticket", Priority: 1,
					Params: map[string]any{"priority": "high"}},
			},
			Enabled:  true,
			Priority: 9,
		},
		{
			ID:       "default-auto-acknowledge",
			TenantID: tenantID,
			Name:     "Acknowledge inbound messages",
			Trigger:  Trigger{Kind: TriggerMessageReceived},
			Actions: []Action{
				{ID: "default-ack-reply", Type: "send_auto_reply", Priority: 1,
					Params: map[string]any{"message": "We received your message and will get back to you shortly."}},
			},
			Enabled:  true,
			Priority: 3,
		},
	}
}
