// Package registry provides the process-wide tenant-to-engine lookup.
// It is constructor-injected rather than a package-level singleton so
// tests and embedders can hold isolated instances.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deskflow/automation/automation"
)

// Registry lazily creates and caches exactly one engine per tenant and
// routes inbound messages and administrative calls to it. It is the
// only structure in the subsystem touched by multiple callers, so the
// get-or-create path is atomic: two concurrent first accesses for the
// same tenant still yield one engine.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]*automation.Engine
	store    automation.RuleStore
	analyzer automation.Analyzer
	executor automation.Executor
}

func New(store automation.RuleStore, analyzer automation.Analyzer, executor automation.Executor) *Registry {
	return &Registry{
		engines:  make(map[string]*automation.Engine),
		store:    store,
		analyzer: analyzer,
		executor: executor,
	}
}

// Engine returns the tenant's engine, creating it on first access.
func (r *Registry) Engine(ctx context.Context, tenantID string) (*automation.Engine, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	r.mu.RLock()
	engine, ok := r.engines[tenantID]
	r.mu.RUnlock()
	if ok {
		return engine, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: another caller may have built it while we waited.
	if engine, ok := r.engines[tenantID]; ok {
		return engine, nil
	}

	engine, err := automation.NewEngine(ctx, tenantID, r.store, r.analyzer, r.executor)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine for tenant %s: %w", tenantID, err)
	}
	r.engines[tenantID] = engine
	return engine, nil
}

// ProcessMessage routes one inbound message to the tenant's engine.
func (r *Registry) ProcessMessage(ctx context.Context, tenantID string, msg automation.Message) (*automation.ProcessResult, error) {
	engine, err := r.Engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return engine.ProcessMessage(ctx, msg), nil
}

// ReloadRules replaces the tenant engine's rule set from storage.
func (r *Registry) ReloadRules(ctx context.Context, tenantID string) error {
	engine, err := r.Engine(ctx, tenantID)
	if err != nil {
		return err
	}
	return engine.LoadRules(ctx)
}

// SyncRule refreshes one rule in the tenant's engine after a CRUD
// change. Creating the engine on demand is fine: a fresh engine loads
// the full current set anyway.
func (r *Registry) SyncRule(ctx context.Context, tenantID, ruleID string) error {
	engine, err := r.Engine(ctx, tenantID)
	if err != nil {
		return err
	}
	return engine.SyncRule(ctx, ruleID)
}

// TestRule dry-runs a rule through the tenant's engine.
func (r *Registry) TestRule(ctx context.Context, tenantID, ruleID string, msg automation.Message) (*automation.TestResult, error) {
	engine, err := r.Engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return engine.TestRule(ctx, ruleID, msg)
}

// Tenants lists the tenants with a live engine, sorted for stable
// output.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]string, 0, len(r.engines))
	for tenantID := range r.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// TenantMetrics returns one tenant's engine metrics snapshot.
func (r *Registry) TenantMetrics(ctx context.Context, tenantID string) (automation.Metrics, error) {
	engine, err := r.Engine(ctx, tenantID)
	if err != nil {
		return automation.Metrics{}, err
	}
	return engine.Metrics(), nil
}

// AggregateMetrics merges the counters of every live engine. Rolling
// averages are weighted by each engine's executed-rule count.
func (r *Registry) AggregateMetrics() automation.Metrics {
	r.mu.RLock()
	engines := make([]*automation.Engine, 0, len(r.engines))
	for _, engine := range r.engines {
		engines = append(engines, engine)
	}
	r.mu.RUnlock()

	var agg automation.Metrics
	var weightedRate, weightedTime float64
	for _, engine := range engines {
		m := engine.Metrics()
		agg.RulesExecuted += m.RulesExecuted
		agg.ActionsTriggered += m.ActionsTriggered
		agg.AIAnalysisCount += m.AIAnalysisCount
		agg.ActiveRules += m.ActiveRules
		weightedRate += m.SuccessRate * float64(m.RulesExecuted)
		weightedTime += m.AvgExecutionTime * float64(m.RulesExecuted)
		if m.LastExecutionAt.After(agg.LastExecutionAt) {
			agg.LastExecutionAt = m.LastExecutionAt
		}
	}
	if agg.RulesExecuted > 0 {
		agg.SuccessRate = weightedRate / float64(agg.RulesExecuted)
		agg.AvgExecutionTime = weightedTime / float64(agg.RulesExecuted)
	}
	return agg
}
