package automation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/deskflow/automation/internal/logger"
)

// fieldValue extracts the value a condition compares against. The
// second return is false when the field cannot be answered at all
// (unknown field, or an AI field with no analysis available), which
// makes the condition false without being an error.
func fieldValue(field string, msg Message, analysis *Analysis) (string, bool) {
	switch field {
	case FieldContent:
		return msg.Content, true
	case FieldSender:
		return msg.Sender, true
	case FieldSubject:
		return msg.Subject, true
	case FieldChannel:
		return msg.Channel, true
	case FieldPriority:
		return strconv.Itoa(msg.Priority), true
	}

	if analysis == nil {
		return "", false
	}
	switch field {
	case FieldIntent:
		return analysis.Intent, true
	case FieldSentiment:
		return analysis.Sentiment, true
	case FieldUrgency:
		return analysis.Urgency, true
	case FieldCategory:
		return analysis.Category, true
	}
	return "", false
}

// evaluateCondition applies one condition against the message and
// optional analysis. It never fails hard: an unanswerable field or an
// invalid regex pattern evaluates to false.
func evaluateCondition(cond Condition, msg Message, analysis *Analysis) bool {
	actual, ok := fieldValue(cond.Field, msg, analysis)
	if !ok {
		return false
	}

	expected := cond.Value
	if cond.Operator != OpRegex && !cond.CaseSensitive {
		actual = strings.ToLower(actual)
		expected = strings.ToLower(expected)
	}

	switch cond.Operator {
	case OpEquals:
		return actual == expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case OpEndsWith:
		return strings.HasSuffix(actual, expected)
	case OpRegex:
		return matchRegex(cond, actual)
	case OpGreaterThan:
		a, e, ok := numericPair(actual, expected)
		return ok && a > e
	case OpLessThan:
		a, e, ok := numericPair(actual, expected)
		return ok && a < e
	}

	logger.Warn("unknown condition operator", "operator", string(cond.Operator), "field", cond.Field)
	return false
}

// matchRegex compiles the pattern per call; an invalid pattern is a
// configuration error and evaluates to false, with a structured log
// and counter so operators can spot it.
func matchRegex(cond Condition, actual string) bool {
	pattern := cond.Value
	if !cond.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.RegexFailure()
		logger.Warn("invalid regex in condition", "field", cond.Field, "pattern", cond.Value, "error", err.Error())
		return false
	}
	return re.MatchString(actual)
}

func numericPair(actual, expected string) (float64, float64, bool) {
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return 0, 0, false
	}
	e, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return 0, 0, false
	}
	return a, e, true
}

// ValidOperator reports whether op is part of the condition operator
// vocabulary. Used by configuration validation.
func ValidOperator(op Operator) bool {
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpRegex, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// ValidTriggerKind reports whether k is a known trigger kind.
func ValidTriggerKind(k TriggerKind) bool {
	switch k {
	case TriggerMessageReceived, TriggerEmailReceived, TriggerKeywordMatch,
		TriggerAIAnalysis, TriggerTimeBased, TriggerChannel:
		return true
	}
	return false
}
