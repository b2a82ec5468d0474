package registry

import (
	"fmt"
	"regexp"

	"github.com/deskflow/automation/automation"
)

// Capability is the slice of the executor the validator needs: can an
// action type be dispatched at all.
type Capability interface {
	CanExecute(actionType string) bool
}

// ValidateRule checks a rule's configuration before it is accepted
// into storage. Runtime evaluation degrades silently on bad config;
// this is where rule authors get the loud error instead.
func ValidateRule(rule *automation.Rule, executor Capability) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if rule.TenantID == "" {
		return fmt.Errorf("rule tenant id is required")
	}
	if rule.Priority < 1 || rule.Priority > 10 {
		return fmt.Errorf("rule priority %d out of range (1-10)", rule.Priority)
	}

	if !automation.ValidTriggerKind(rule.Trigger.Kind) {
		return fmt.Errorf("unknown trigger kind %q", rule.Trigger.Kind)
	}

	for i, cond := range rule.Trigger.Conditions {
		if err := validateCondition(cond); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		// An AI-derived field on a rule that never requests analysis
		// would evaluate to false forever; reject it up front.
		if automation.IsAIField(cond.Field) && !rule.RequiresAI() {
			return fmt.Errorf("condition %d reads AI field %q but the rule is not AI-enabled", i, cond.Field)
		}
	}

	if err := automation.ValidateExpression(rule.Trigger.Expression); err != nil {
		return fmt.Errorf("trigger expression: %w", err)
	}

	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}
	for i, action := range rule.Actions {
		if action.Type == "" {
			return fmt.Errorf("action %d has no type", i)
		}
		if executor != nil && !executor.CanExecute(action.Type) {
			return fmt.Errorf("action %d: no handler registered for type %q", i, action.Type)
		}
	}

	return nil
}

func validateCondition(cond automation.Condition) error {
	if cond.Field == "" {
		return fmt.Errorf("field is required")
	}
	if !validField(cond.Field) {
		return fmt.Errorf("unknown field %q", cond.Field)
	}
	if !automation.ValidOperator(cond.Operator) {
		return fmt.Errorf("unknown operator %q", cond.Operator)
	}
	if cond.Operator == automation.OpRegex {
		if _, err := regexp.Compile(cond.Value); err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", cond.Value, err)
		}
	}
	return nil
}

func validField(field string) bool {
	switch field {
	case automation.FieldContent, automation.FieldSender, automation.FieldSubject,
		automation.FieldChannel, automation.FieldPriority:
		return true
	}
	return automation.IsAIField(field)
}
