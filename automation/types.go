package automation

import "time"

// TriggerKind is the coarse gate a message must pass before a rule's
// conditions are evaluated.
type TriggerKind string

const (
	TriggerMessageReceived TriggerKind = "message_received"
	TriggerEmailReceived   TriggerKind = "email_received"
	TriggerKeywordMatch    TriggerKind = "keyword_match"
	TriggerAIAnalysis      TriggerKind = "ai_analysis"
	TriggerTimeBased       TriggerKind = "time_based"
	TriggerChannel         TriggerKind = "channel"
)

// Operator compares an extracted field value against a condition's
// expected value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Condition fields. AI-prefixed fields are answered from the message's
// AI analysis and require the owning rule to opt into AI.
const (
	FieldContent   = "content"
	FieldSender    = "sender"
	FieldSubject   = "subject"
	FieldChannel   = "channel"
	FieldPriority  = "priority"
	FieldIntent    = "ai_intent"
	FieldSentiment = "ai_sentiment"
	FieldUrgency   = "ai_urgency"
	FieldCategory  = "ai_category"
)

// Condition is a single field/operator/value comparison. Conditions on
// the same trigger are ANDed together.
type Condition struct {
	Field         string   `json:"field"`
	Operator      Operator `json:"operator"`
	Value         string   `json:"value"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
}

// Trigger is the gate half of a rule: a kind, the conditions behind it,
// an optional CEL expression evaluated against the normalized message
// and AI analysis, and the AI opt-in flag.
type Trigger struct {
	Kind       TriggerKind `json:"kind"`
	Conditions []Condition `json:"conditions,omitempty"`
	Expression string      `json:"expression,omitempty"`
	AIEnabled  bool        `json:"aiEnabled,omitempty"`
}

// Action describes one side effect dispatched when a rule matches.
// Type is an open vocabulary; unknown types fail softly at dispatch.
type Action struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Target    string         `json:"target,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Priority  int            `json:"priority"`
	AIEnabled bool           `json:"aiEnabled,omitempty"`
}

// Rule is the unit of automation: one trigger, an ordered action list,
// a priority, and running execution statistics. Rules are immutable
// once loaded except for their statistics, which only the owning
// engine mutates.
type Rule struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenantId"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Trigger     Trigger `json:"trigger"`
	Actions     []Action `json:"actions"`
	Enabled     bool    `json:"enabled"`
	// Priority runs 1-10; higher evaluates first. A matched rule at or
	// above HighPriorityThreshold stops evaluation of the rest.
	Priority  int  `json:"priority"`
	AIEnabled bool `json:"aiEnabled"`

	ExecutionCount int64      `json:"executionCount"`
	SuccessCount   int64      `json:"successCount"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so stores and handlers can hand rules out
// without exposing engine-owned state.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Trigger.Conditions = append([]Condition(nil), r.Trigger.Conditions...)
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = a
		if a.Params != nil {
			params := make(map[string]any, len(a.Params))
			for k, v := range a.Params {
				params[k] = v
			}
			c.Actions[i].Params = params
		}
	}
	if r.LastExecutedAt != nil {
		t := *r.LastExecutedAt
		c.LastExecutedAt = &t
	}
	return &c
}

// Message is the normalized inbound message snapshot. Channel-specific
// aliasing happens in the ingestion layer; the engine only reads this
// canonical shape.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender"`
	Subject   string         `json:"subject,omitempty"`
	Channel   string         `json:"channel"`
	Priority  int            `json:"priority,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Analysis is the AI classification computed at most once per message
// and shared across every AI-gated rule of that cycle.
type Analysis struct {
	Intent                 string   `json:"intent"`
	Sentiment              string   `json:"sentiment"`
	Urgency                string   `json:"urgency"`
	Category               string   `json:"category"`
	Keywords               []string `json:"keywords,omitempty"`
	Confidence             float64  `json:"confidence"`
	Summary                string   `json:"summary,omitempty"`
	RequiresHumanAttention bool     `json:"requiresHumanAttention"`
	Language               string   `json:"language,omitempty"`
}

// ExecutionContext is the ephemeral bundle shared by all actions of a
// single rule execution. It is never persisted.
type ExecutionContext struct {
	TenantID string
	Message  Message
	Analysis *Analysis
	RuleID   string
	RuleName string
}

// ActionResult is the uniform outcome of dispatching one action. The
// executor always returns one, even for unknown types or handler
// panics.
type ActionResult struct {
	ActionID string         `json:"actionId,omitempty"`
	Type     string         `json:"type"`
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ExecutionStats is the slice of rule state flushed back to durable
// storage after an execution.
type ExecutionStats struct {
	ExecutionCount int64
	SuccessCount   int64
	LastExecutedAt time.Time
}

// RuleOutcome reports one rule's part in a ProcessMessage cycle.
type RuleOutcome struct {
	RuleID   string         `json:"ruleId"`
	RuleName string         `json:"ruleName"`
	Matched  bool           `json:"matched"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// ProcessResult summarizes one ProcessMessage cycle.
type ProcessResult struct {
	TenantID         string        `json:"tenantId"`
	RulesEvaluated   int           `json:"rulesEvaluated"`
	RulesMatched     int           `json:"rulesMatched"`
	ActionsTriggered int           `json:"actionsTriggered"`
	AIAnalysisUsed   bool          `json:"aiAnalysisUsed"`
	ShortCircuited   bool          `json:"shortCircuited"`
	Duration         time.Duration `json:"duration"`
	Outcomes         []RuleOutcome `json:"outcomes"`
}

// TestResult is the dry-run outcome surfaced to rule authors.
type TestResult struct {
	RuleID        string        `json:"ruleId"`
	Matched       bool          `json:"matched"`
	ExecutionTime time.Duration `json:"executionTime"`
	Error         string        `json:"error,omitempty"`
}

// Metrics is a point-in-time snapshot of one engine's in-memory
// observability counters. Reset by process restart, never persisted.
type Metrics struct {
	TenantID         string    `json:"tenantId,omitempty"`
	RulesExecuted    int64     `json:"rulesExecuted"`
	ActionsTriggered int64     `json:"actionsTriggered"`
	SuccessRate      float64   `json:"successRate"`
	AvgExecutionTime float64   `json:"avgExecutionTimeMs"`
	AIAnalysisCount  int64     `json:"aiAnalysisCount"`
	LastExecutionAt  time.Time `json:"lastExecutionAt"`
	ActiveRules      int       `json:"activeRules"`
}

// IsAIField reports whether a condition field is answered from the AI
// analysis rather than the raw message.
func IsAIField(field string) bool {
	switch field {
	case FieldIntent, FieldSentiment, FieldUrgency, FieldCategory:
		return true
	}
	return false
}

// RequiresAI reports whether evaluating this rule needs an AI analysis:
// either flag opted in, or the trigger gate is ai_analysis. Conditions
// on AI-derived fields do not opt in by themselves; a rule that reads
// them without enabling AI is a configuration error caught by
// validation, and evaluates those conditions to false at runtime.
func (r *Rule) RequiresAI() bool {
	return r.AIEnabled || r.Trigger.AIEnabled || r.Trigger.Kind == TriggerAIAnalysis
}
