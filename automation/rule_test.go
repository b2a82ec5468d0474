package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// countingAnalyzer records calls and returns a fixed analysis.
type countingAnalyzer struct {
	calls  atomic.Int64
	result *Analysis
	err    error
}

func (a *countingAnalyzer) Analyze(_ context.Context, _ Message) (*Analysis, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

// recordingExecutor captures dispatched actions and returns canned
// results.
type recordingExecutor struct {
	executed []Action
	contexts []*ExecutionContext
	fail     map[string]string // action type -> error message
}

func (e *recordingExecutor) Execute(_ context.Context, action Action, ectx *ExecutionContext) ActionResult {
	e.executed = append(e.executed, action)
	e.contexts = append(e.contexts, ectx)
	if msg, ok := e.fail[action.Type]; ok {
		return ActionResult{ActionID: action.ID, Type: action.Type, Success: false, Error: msg}
	}
	return ActionResult{ActionID: action.ID, Type: action.Type, Success: true}
}

func (e *recordingExecutor) ExecuteActions(ctx context.Context, actions []Action, ectx *ExecutionContext) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, e.Execute(ctx, a, ectx))
	}
	return results
}

func (e *recordingExecutor) CanExecute(string) bool { return true }

func keywordRule(tenantID string) *Rule {
	return &Rule{
		ID:       "rule-keyword",
		TenantID: tenantID,
		Name:     "Auto reply on support keyword",
		Trigger: Trigger{
			Kind: TriggerKeywordMatch,
			Conditions: []Condition{
				{Field: FieldContent, Operator: OpContains, Value: "suporte"},
			},
		},
		Actions: []Action{
			{ID: "a1", Type: "send_auto_reply", Priority: 1},
		},
		Enabled:  true,
		Priority: 5,
	}
}

func TestRuleEvaluateKeywordScenario(t *testing.T) {
	rule := keywordRule("t1")
	msg := Message{Content: "Preciso de SUPORTE urgente", Channel: "chat", Timestamp: time.Now()}

	matched, _ := rule.Evaluate(context.Background(), msg, nil, nil)
	if !matched {
		t.Fatal("case-insensitive contains should match SUPORTE against suporte")
	}

	exec := &recordingExecutor{}
	results := rule.Execute(context.Background(), msg, nil, exec)
	if len(results) != 1 {
		t.Fatalf("expected 1 action result, got %d", len(results))
	}
	if exec.executed[0].Type != "send_auto_reply" {
		t.Errorf("dispatched action type = %q, want send_auto_reply", exec.executed[0].Type)
	}
}

func TestRuleEvaluateDisabledNeverMatchesAndNeverCallsAI(t *testing.T) {
	analyzer := &countingAnalyzer{result: &Analysis{Intent: "complaint"}}
	rule := keywordRule("t1")
	rule.Enabled = false
	rule.AIEnabled = true
	rule.Trigger.AIEnabled = true

	matched, _ := rule.Evaluate(context.Background(), Message{Content: "suporte"}, nil, analyzer)
	if matched {
		t.Error("disabled rule must never match")
	}
	if analyzer.calls.Load() != 0 {
		t.Errorf("disabled rule triggered %d AI calls, want 0", analyzer.calls.Load())
	}
}

func TestRuleEvaluateFetchesAnalysisOnce(t *testing.T) {
	analyzer := &countingAnalyzer{result: &Analysis{Intent: "complaint", Sentiment: "negative"}}
	rule := &Rule{
		ID: "rule-ai", TenantID: "t1", Name: "Complaints",
		Trigger: Trigger{
			Kind:      TriggerAIAnalysis,
			AIEnabled: true,
			Conditions: []Condition{
				{Field: FieldIntent, Operator: OpEquals, Value: "complaint"},
			},
		},
		Actions: []Action{{ID: "a1", Type: "create_ticket", Priority: 1}},
		Enabled: true, Priority: 5, AIEnabled: true,
	}

	matched, analysis := rule.Evaluate(context.Background(), Message{Content: "this is unacceptable"}, nil, analyzer)
	if !matched {
		t.Fatal("rule should match the analyzer's complaint intent")
	}
	if analyzer.calls.Load() != 1 {
		t.Errorf("Evaluate made %d AI calls, want 1", analyzer.calls.Load())
	}
	if analysis == nil || analysis.Intent != "complaint" {
		t.Error("Evaluate should return the fetched analysis for reuse by Execute")
	}

	// A supplied analysis suppresses further calls.
	matched, _ = rule.Evaluate(context.Background(), Message{Content: "x"}, analysis, analyzer)
	if !matched {
		t.Error("rule should match with the shared analysis")
	}
	if analyzer.calls.Load() != 1 {
		t.Errorf("shared analysis should prevent a second AI call, got %d calls", analyzer.calls.Load())
	}
}

func TestRuleEvaluateAIProviderFailureDegradesToDefault(t *testing.T) {
	analyzer := &countingAnalyzer{err: errors.New("provider timeout")}
	rule := &Rule{
		ID: "rule-ai", TenantID: "t1", Name: "Complaints",
		Trigger: Trigger{
			Kind:      TriggerAIAnalysis,
			AIEnabled: true,
			Conditions: []Condition{
				{Field: FieldIntent, Operator: OpEquals, Value: "complaint"},
			},
		},
		Actions: []Action{{ID: "a1", Type: "create_ticket", Priority: 1}},
		Enabled: true, Priority: 5, AIEnabled: true,
	}

	matched, analysis := rule.Evaluate(context.Background(), Message{Content: "hello"}, nil, analyzer)
	if matched {
		t.Error("neutral default analysis (intent=other) must not match intent=complaint")
	}
	if analysis == nil || analysis.Intent != "other" || analysis.Confidence != 0 {
		t.Errorf("analysis = %+v, want neutral default", analysis)
	}
}

func TestTriggerGates(t *testing.T) {
	testCases := []struct {
		name string
		kind TriggerKind
		msg  Message
		want bool
	}{
		{"message_received always passes", TriggerMessageReceived, Message{}, true},
		{"email_received on email channel", TriggerEmailReceived, Message{Channel: "email"}, true},
		{"email_received on subject", TriggerEmailReceived, Message{Channel: "chat", Subject: "hi"}, true},
		{"email_received fails bare chat", TriggerEmailReceived, Message{Channel: "chat"}, false},
		{"keyword_match needs content", TriggerKeywordMatch, Message{}, false},
		{"keyword_match with content", TriggerKeywordMatch, Message{Content: "x"}, true},
		{"channel needs channel tag", TriggerChannel, Message{}, false},
		{"channel with tag", TriggerChannel, Message{Channel: "telegram"}, true},
		{"time_based always passes", TriggerTimeBased, Message{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Trigger{Kind: tc.kind}
			if got := tr.gate(tc.msg, nil); got != tc.want {
				t.Errorf("gate(%q) = %v, want %v", tc.kind, got, tc.want)
			}
		})
	}

	// ai_analysis gates on the analysis being present.
	tr := Trigger{Kind: TriggerAIAnalysis}
	if tr.gate(Message{}, nil) {
		t.Error("ai_analysis gate should fail without an analysis")
	}
	if !tr.gate(Message{}, &Analysis{}) {
		t.Error("ai_analysis gate should pass with an analysis")
	}
}

func TestRuleExecuteOrdersActionsByPriority(t *testing.T) {
	rule := keywordRule("t1")
	rule.Actions = []Action{
		{ID: "a3", Type: "webhook", Priority: 3},
		{ID: "a1", Type: "send_auto_reply", Priority: 1},
		{ID: "a2", Type: "create_ticket", Priority: 2},
	}

	exec := &recordingExecutor{}
	results := rule.Execute(context.Background(), Message{Content: "suporte"}, nil, exec)

	wantOrder := []string{"a1", "a2", "a3"}
	if len(results) != len(wantOrder) {
		t.Fatalf("got %d results, want %d", len(results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if exec.executed[i].ID != want {
			t.Errorf("action %d dispatched = %s, want %s", i, exec.executed[i].ID, want)
		}
	}
}

func TestRuleExecuteSharesOneContext(t *testing.T) {
	rule := keywordRule("t1")
	rule.Actions = append(rule.Actions, Action{ID: "a2", Type: "create_ticket", Priority: 2})

	exec := &recordingExecutor{}
	analysis := &Analysis{Intent: "request"}
	rule.Execute(context.Background(), Message{Content: "suporte"}, analysis, exec)

	if len(exec.contexts) != 2 {
		t.Fatalf("got %d contexts, want 2", len(exec.contexts))
	}
	if exec.contexts[0] != exec.contexts[1] {
		t.Error("all actions of one execution must share a single context")
	}
	if exec.contexts[0].Analysis != analysis {
		t.Error("execution context should carry the shared analysis")
	}
	if exec.contexts[0].RuleID != rule.ID {
		t.Errorf("context RuleID = %s, want %s", exec.contexts[0].RuleID, rule.ID)
	}
}

func TestRequiresAI(t *testing.T) {
	testCases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"plain rule", Rule{Trigger: Trigger{Kind: TriggerKeywordMatch}}, false},
		{"rule flag", Rule{AIEnabled: true, Trigger: Trigger{Kind: TriggerKeywordMatch}}, true},
		{"trigger flag", Rule{Trigger: Trigger{Kind: TriggerKeywordMatch, AIEnabled: true}}, true},
		{"ai_analysis kind", Rule{Trigger: Trigger{Kind: TriggerAIAnalysis}}, true},
		{"ai condition field alone does not opt in", Rule{Trigger: Trigger{Kind: TriggerMessageReceived,
			Conditions: []Condition{{Field: FieldSentiment, Operator: OpEquals, Value: "negative"}}}}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.RequiresAI(); got != tc.want {
				t.Errorf("RequiresAI() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSortRulesDeterministicTieBreak(t *testing.T) {
	rules := []*Rule{
		{ID: "b", Priority: 5},
		{ID: "a", Priority: 5},
		{ID: "c", Priority: 9},
		{ID: "d", Priority: 1},
	}
	sortRules(rules)

	wantOrder := []string{"c", "a", "b", "d"}
	for i, want := range wantOrder {
		if rules[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, rules[i].ID, want)
		}
	}
}
