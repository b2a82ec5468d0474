package automation

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/deskflow/automation/internal/logger"
)

// Triggers may carry an optional CEL expression for matching beyond
// what the structured operators express. The expression sees two dyn
// variables, `message` and `analysis`, and is ANDed with the trigger's
// conditions. Compilation happens once per rule at load time; a
// non-boolean or failed evaluation counts as no match.

func newExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("message", cel.DynType),
		cel.Variable("analysis", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpression compiles a trigger expression to a CEL program.
// The cost limit guards against runaway expressions from rule authors.
func compileExpression(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// ValidateExpression reports whether a trigger expression compiles.
// Used by rule configuration validation before a rule is accepted.
func ValidateExpression(expr string) error {
	if expr == "" {
		return nil
	}
	env, err := newExpressionEnv()
	if err != nil {
		return err
	}
	_, err = compileExpression(env, expr)
	return err
}

// expressionActivation builds the variable bindings for one evaluation.
func expressionActivation(msg Message, analysis *Analysis) map[string]any {
	msgVars := map[string]any{
		"content":  msg.Content,
		"sender":   msg.Sender,
		"subject":  msg.Subject,
		"channel":  msg.Channel,
		"priority": msg.Priority,
	}
	if msg.Metadata != nil {
		msgVars["metadata"] = msg.Metadata
	}

	analysisVars := map[string]any{}
	if analysis != nil {
		analysisVars = map[string]any{
			"intent":     analysis.Intent,
			"sentiment":  analysis.Sentiment,
			"urgency":    analysis.Urgency,
			"category":   analysis.Category,
			"confidence": analysis.Confidence,
			"language":   analysis.Language,
		}
	}

	return map[string]any{
		"message":  msgVars,
		"analysis": analysisVars,
	}
}

// evalExpression runs a compiled trigger program. Evaluation errors
// degrade to false, with a log for operator visibility.
func evalExpression(prog cel.Program, ruleID string, msg Message, analysis *Analysis) bool {
	out, _, err := prog.Eval(expressionActivation(msg, analysis))
	if err != nil {
		logger.Warn("trigger expression evaluation failed", "ruleId", ruleID, "error", err.Error())
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
