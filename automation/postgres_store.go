package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. The
// trigger and action list are stored as JSONB; mapping between the
// stored blob and the runtime types is a pure (de)serialization, so
// there is exactly one in-memory rule shape.
type PostgresRuleStore struct {
	db *sql.DB
}

func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, tenant_id, name, description, trigger, actions, enabled,
	priority, ai_enabled, execution_count, success_count, last_executed_at,
	created_at, updated_at`

func (s *PostgresRuleStore) FindByTenant(ctx context.Context, tenantID string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE tenant_id = $1
		ORDER BY priority DESC, id ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func (s *PostgresRuleStore) FindByID(ctx context.Context, id, tenantID string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	triggerJSON, actionsJSON, err := marshalRuleBlobs(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules
			(id, tenant_id, name, description, trigger, actions, enabled,
			 priority, ai_enabled, execution_count, success_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rule.ID, rule.TenantID, rule.Name, rule.Description, triggerJSON, actionsJSON,
		rule.Enabled, rule.Priority, rule.AIEnabled,
		rule.ExecutionCount, rule.SuccessCount, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	triggerJSON, actionsJSON, err := marshalRuleBlobs(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET name = $1, description = $2, trigger = $3, actions = $4,
			enabled = $5, priority = $6, ai_enabled = $7, updated_at = $8
		WHERE id = $9 AND tenant_id = $10
	`, rule.Name, rule.Description, triggerJSON, actionsJSON,
		rule.Enabled, rule.Priority, rule.AIEnabled, rule.UpdatedAt,
		rule.ID, rule.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRow(result, rule.ID)
}

func (s *PostgresRuleStore) Delete(ctx context.Context, id, tenantID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM automation_rules
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRow(result, id)
}

func (s *PostgresRuleStore) UpdateExecutionStats(ctx context.Context, id, tenantID string, stats ExecutionStats) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET execution_count = $1, success_count = $2, last_executed_at = $3
		WHERE id = $4 AND tenant_id = $5
	`, stats.ExecutionCount, stats.SuccessCount, stats.LastExecutedAt, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule stats: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

func marshalRuleBlobs(rule *Rule) ([]byte, []byte, error) {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	actions := rule.Actions
	if actions == nil {
		actions = []Action{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return triggerJSON, actionsJSON, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var rule Rule
	var triggerJSON, actionsJSON []byte
	var lastExecuted sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&triggerJSON, &actionsJSON, &rule.Enabled,
		&rule.Priority, &rule.AIEnabled,
		&rule.ExecutionCount, &rule.SuccessCount, &lastExecuted,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if err := json.Unmarshal(triggerJSON, &rule.Trigger); err != nil {
		return nil, fmt.Errorf("invalid trigger for rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
		return nil, fmt.Errorf("invalid actions for rule %s: %w", rule.ID, err)
	}
	if lastExecuted.Valid {
		t := lastExecuted.Time
		rule.LastExecutedAt = &t
	}
	return &rule, nil
}
