package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deskflow/automation/automation"
)

type stubSender struct {
	tenantID  string
	recipient string
	channel   string
	body      string
	err       error
}

func (s *stubSender) Send(_ context.Context, tenantID, recipient, channel, body string) error {
	s.tenantID, s.recipient, s.channel, s.body = tenantID, recipient, channel, body
	return s.err
}

type stubTickets struct {
	ticket Ticket
	err    error
}

func (s *stubTickets) Create(_ context.Context, _ string, ticket Ticket) (string, error) {
	s.ticket = ticket
	if s.err != nil {
		return "", s.err
	}
	return "tkt-1", nil
}

type stubTagger struct {
	messageID string
	tag       string
	err       error
}

func (s *stubTagger) Tag(_ context.Context, _ string, messageID, tag string) error {
	s.messageID, s.tag = messageID, tag
	return s.err
}

func executionContext() *automation.ExecutionContext {
	return &automation.ExecutionContext{
		TenantID: "tenant-1",
		RuleID:   "r1",
		RuleName: "escalate complaints",
		Message: automation.Message{
			ID:      "m1",
			Content: "my order never arrived",
			Sender:  "customer@example.com",
			Subject: "missing order",
			Channel: "email",
		},
	}
}

func TestAutoReplyHandler(t *testing.T) {
	sender := &stubSender{}
	handler := &AutoReplyHandler{Sender: sender}

	action := automation.Action{
		Type:   TypeSendAutoReply,
		Params: map[string]any{"message": "We're on it!"},
	}
	result, err := handler.Execute(context.Background(), action, executionContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if sender.recipient != "customer@example.com" {
		t.Errorf("recipient = %q, want the message sender", sender.recipient)
	}
	if sender.channel != "email" || sender.body != "We're on it!" {
		t.Errorf("sent %q on %q, want configured body on message channel", sender.body, sender.channel)
	}
}

func TestAutoReplyHandlerTargetOverridesRecipient(t *testing.T) {
	sender := &stubSender{}
	handler := &AutoReplyHandler{Sender: sender}

	action := automation.Action{
		Type:   TypeSendAutoReply,
		Target: "supervisor@example.com",
		Params: map[string]any{"message": "heads up"},
	}
	if _, err := handler.Execute(context.Background(), action, executionContext()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if sender.recipient != "supervisor@example.com" {
		t.Errorf("recipient = %q, want the action target", sender.recipient)
	}
}

func TestAutoReplyHandlerUsesAnalysisSummary(t *testing.T) {
	sender := &stubSender{}
	handler := &AutoReplyHandler{Sender: sender}

	ectx := executionContext()
	ectx.Analysis = &automation.Analysis{Summary: "Customer reports a missing order."}

	action := automation.Action{Type: TypeSendAutoReply, AIEnabled: true}
	if _, err := handler.Execute(context.Background(), action, ectx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if sender.body != "Customer reports a missing order." {
		t.Errorf("body = %q, want the analysis summary", sender.body)
	}
}

func TestAutoReplyHandlerFailures(t *testing.T) {
	testCases := []struct {
		name    string
		handler *AutoReplyHandler
		action  automation.Action
	}{
		{"no sender", &AutoReplyHandler{}, automation.Action{Params: map[string]any{"message": "hi"}}},
		{"no body", &AutoReplyHandler{Sender: &stubSender{}}, automation.Action{}},
		{
			"sender error",
			&AutoReplyHandler{Sender: &stubSender{err: errors.New("smtp down")}},
			automation.Action{Params: map[string]any{"message": "hi"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.handler.Execute(context.Background(), tc.action, executionContext()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCreateTicketHandler(t *testing.T) {
	tickets := &stubTickets{}
	handler := &CreateTicketHandler{Tickets: tickets}

	result, err := handler.Execute(context.Background(), automation.Action{Type: TypeCreateTicket}, executionContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Data["ticketId"] != "tkt-1" {
		t.Errorf("Data = %v, want the created ticket id", result.Data)
	}
	if tickets.ticket.Subject != "missing order" || tickets.ticket.Requester != "customer@example.com" {
		t.Errorf("ticket = %+v, want fields copied from the message", tickets.ticket)
	}
}

func TestCreateTicketHandlerPriority(t *testing.T) {
	testCases := []struct {
		name     string
		action   automation.Action
		analysis *automation.Analysis
		want     string
	}{
		{"explicit param wins", automation.Action{Params: map[string]any{"priority": "low"}}, &automation.Analysis{Urgency: "high"}, "low"},
		{"high urgency escalates", automation.Action{}, &automation.Analysis{Urgency: "high"}, "high"},
		{"no signal, no priority", automation.Action{}, nil, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tickets := &stubTickets{}
			handler := &CreateTicketHandler{Tickets: tickets}
			ectx := executionContext()
			ectx.Analysis = tc.analysis

			if _, err := handler.Execute(context.Background(), tc.action, ectx); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if tickets.ticket.Priority != tc.want {
				t.Errorf("Priority = %q, want %q", tickets.ticket.Priority, tc.want)
			}
		})
	}
}

func TestCreateTicketHandlerSubjectFallback(t *testing.T) {
	tickets := &stubTickets{}
	handler := &CreateTicketHandler{Tickets: tickets}
	ectx := executionContext()
	ectx.Message.Subject = ""

	if _, err := handler.Execute(context.Background(), automation.Action{}, ectx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if tickets.ticket.Subject != "Automated ticket: escalate complaints" {
		t.Errorf("Subject = %q, want the rule-name fallback", tickets.ticket.Subject)
	}
}

func TestWebhookHandler(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	handler := &WebhookHandler{Client: server.Client()}
	ectx := executionContext()
	ectx.Analysis = &automation.Analysis{Intent: "complaint"}

	action := automation.Action{
		Type:   TypeWebhook,
		Target: server.URL,
		Params: map[string]any{"secret": "s3"},
	}
	result, err := handler.Execute(context.Background(), action, ectx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success for 204 response")
	}

	if received["tenantId"] != "tenant-1" || received["ruleId"] != "r1" {
		t.Errorf("payload = %v, want tenant and rule identity", received)
	}
	if _, ok := received["analysis"]; !ok {
		t.Error("payload should include the shared analysis when present")
	}
	if params, ok := received["params"].(map[string]any); !ok || params["secret"] != "s3" {
		t.Errorf("payload params = %v, want the action params", received["params"])
	}
}

func TestWebhookHandlerNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	handler := &WebhookHandler{Client: server.Client()}
	action := automation.Action{Type: TypeWebhook, Target: server.URL}

	_, err := handler.Execute(context.Background(), action, executionContext())
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if want := fmt.Sprintf("status %d", http.StatusBadGateway); !strings.Contains(err.Error(), want) {
		t.Errorf("error = %v, want it to mention %q", err, want)
	}
}

func TestWebhookHandlerRequiresTarget(t *testing.T) {
	handler := &WebhookHandler{Client: http.DefaultClient}
	if _, err := handler.Execute(context.Background(), automation.Action{Type: TypeWebhook}, executionContext()); err == nil {
		t.Error("expected error for missing target URL")
	}
}

func TestAddTagHandler(t *testing.T) {
	tagger := &stubTagger{}
	handler := &AddTagHandler{Tagger: tagger}

	action := automation.Action{Type: TypeAddTag, Target: "vip"}
	if _, err := handler.Execute(context.Background(), action, executionContext()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if tagger.tag != "vip" || tagger.messageID != "m1" {
		t.Errorf("tagged %q on %q, want vip on m1", tagger.tag, tagger.messageID)
	}

	// A `tag` param takes precedence over the target.
	action = automation.Action{Type: TypeAddTag, Target: "vip", Params: map[string]any{"tag": "billing"}}
	if _, err := handler.Execute(context.Background(), action, executionContext()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if tagger.tag != "billing" {
		t.Errorf("tag = %q, want the param to win", tagger.tag)
	}

	if _, err := handler.Execute(context.Background(), automation.Action{Type: TypeAddTag}, executionContext()); err == nil {
		t.Error("expected error when no tag is given")
	}
}

func TestRegisterDefaults(t *testing.T) {
	executor := automation.NewDispatchExecutor()
	RegisterDefaults(executor, Deps{Sender: &stubSender{}, Tickets: &stubTickets{}, Tagger: &stubTagger{}})

	for _, actionType := range []string{TypeSendAutoReply, TypeCreateTicket, TypeWebhook, TypeAddTag} {
		if !executor.CanExecute(actionType) {
			t.Errorf("CanExecute(%q) = false, want true", actionType)
		}
	}
	if executor.CanExecute("launch_rocket") {
		t.Error("CanExecute should reject unregistered types")
	}
}
