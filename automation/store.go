package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RuleStore is the persistence contract. The engine is a read-mostly
// consumer at runtime plus a stats writer after each execution; rule
// CRUD flows through the admin surface.
type RuleStore interface {
	FindByTenant(ctx context.Context, tenantID string) ([]*Rule, error)
	// FindByID returns nil, nil when the rule does not exist.
	FindByID(ctx context.Context, id, tenantID string) (*Rule, error)
	Add(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id, tenantID string) error
	UpdateExecutionStats(ctx context.Context, id, tenantID string, stats ExecutionStats) error
}

// InMemoryRuleStore implements RuleStore with a tenant-keyed map.
// Thread-safe; rules are cloned at the boundary in both directions.
type InMemoryRuleStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*Rule
}

func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{tenants: make(map[string]map[string]*Rule)}
}

func (s *InMemoryRuleStore) FindByTenant(_ context.Context, tenantID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.tenants[tenantID] {
		out = append(out, rule.Clone())
	}
	return out, nil
}

func (s *InMemoryRuleStore) FindByID(_ context.Context, id, tenantID string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.tenants[tenantID][id]
	if !ok {
		return nil, nil
	}
	return rule.Clone(), nil
}

func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.tenants[rule.TenantID]
	if !ok {
		byID = make(map[string]*Rule)
		s.tenants[rule.TenantID] = byID
	}
	if _, exists := byID[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	byID[rule.ID] = rule.Clone()
	return nil
}

func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tenants[rule.TenantID][rule.ID]
	if !ok {
		return fmt.Errorf("rule with ID %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.tenants[rule.TenantID][rule.ID] = rule.Clone()
	return nil
}

func (s *InMemoryRuleStore) Delete(_ context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenantID][id]; !ok {
		return fmt.Errorf("rule with ID %s not found", id)
	}
	delete(s.tenants[tenantID], id)
	return nil
}

func (s *InMemoryRuleStore) UpdateExecutionStats(_ context.Context, id, tenantID string, stats ExecutionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.tenants[tenantID][id]
	if !ok {
		return fmt.Errorf("rule with ID %s not found", id)
	}
	rule.ExecutionCount = stats.ExecutionCount
	rule.SuccessCount = stats.SuccessCount
	t := stats.LastExecutedAt
	rule.LastExecutedAt = &t
	return nil
}
