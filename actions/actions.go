// Package actions provides the built-in action handlers dispatched by
// the automation executor. Each handler only adapts an action
// descriptor to a collaborator port; the channel-specific delivery and
// ticket business logic live behind those ports.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deskflow/automation/automation"
)

// Action type tags understood out of the box. The vocabulary is open:
// anything can register more handlers on the executor.
const (
	TypeSendAutoReply = "send_auto_reply"
	TypeCreateTicket  = "create_ticket"
	TypeWebhook       = "webhook"
	TypeAddTag        = "add_tag"
)

// MessageSender delivers an outbound reply on a channel.
type MessageSender interface {
	Send(ctx context.Context, tenantID, recipient, channel, body string) error
}

// Ticket is the minimal shape handed to the ticketing collaborator.
type Ticket struct {
	Subject     string
	Description string
	Priority    string
	Requester   string
	Channel     string
}

// TicketCreator opens a ticket and returns its identifier.
type TicketCreator interface {
	Create(ctx context.Context, tenantID string, ticket Ticket) (string, error)
}

// Tagger attaches a tag to the conversation a message belongs to.
type Tagger interface {
	Tag(ctx context.Context, tenantID, messageID, tag string) error
}

// Deps bundles the collaborator ports for RegisterDefaults. A nil
// HTTPClient gets a sensible default timeout.
type Deps struct {
	Sender     MessageSender
	Tickets    TicketCreator
	Tagger     Tagger
	HTTPClient *http.Client
}

// RegisterDefaults installs the built-in handlers on the executor.
func RegisterDefaults(exec *automation.DispatchExecutor, deps Deps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	exec.Register(TypeSendAutoReply, &AutoReplyHandler{Sender: deps.Sender})
	exec.Register(TypeCreateTicket, &CreateTicketHandler{Tickets: deps.Tickets})
	exec.Register(TypeWebhook, &WebhookHandler{Client: deps.HTTPClient})
	exec.Register(TypeAddTag, &AddTagHandler{Tagger: deps.Tagger})
}

// AutoReplyHandler sends a canned (or analysis-informed) reply back to
// the message sender.
type AutoReplyHandler struct {
	Sender MessageSender
}

func (h *AutoReplyHandler) Execute(ctx context.Context, action automation.Action, ectx *automation.ExecutionContext) (*automation.ActionResult, error) {
	if h.Sender == nil {
		return nil, fmt.Errorf("no message sender configured")
	}

	body, _ := action.Params["message"].(string)
	if body == "" && action.AIEnabled && ectx.Analysis != nil && ectx.Analysis.Summary != "" {
		body = ectx.Analysis.Summary
	}
	if body == "" {
		return nil, fmt.Errorf("auto reply has no message body")
	}

	recipient := action.Target
	if recipient == "" {
		recipient = ectx.Message.Sender
	}

	if err := h.Sender.Send(ctx, ectx.TenantID, recipient, ectx.Message.Channel, body); err != nil {
		return nil, fmt.Errorf("failed to send auto reply: %w", err)
	}

	return &automation.ActionResult{
		Success: true,
		Message: fmt.Sprintf("auto reply sent to %s", recipient),
	}, nil
}

// CreateTicketHandler opens a ticket from the inbound message.
type CreateTicketHandler struct {
	Tickets TicketCreator
}

func (h *CreateTicketHandler) Execute(ctx context.Context, action automation.Action, ectx *automation.ExecutionContext) (*automation.ActionResult, error) {
	if h.Tickets == nil {
		return nil, fmt.Errorf("no ticket creator configured")
	}

	ticket := Ticket{
		Subject:     ectx.Message.Subject,
		Description: ectx.Message.Content,
		Requester:   ectx.Message.Sender,
		Channel:     ectx.Message.Channel,
	}
	if ticket.Subject == "" {
		ticket.Subject = "Automated ticket: " + ectx.RuleName
	}
	if p, ok := action.Params["priority"].(string); ok {
		ticket.Priority = p
	} else if ectx.Analysis != nil && ectx.Analysis.Urgency == "high" {
		ticket.Priority = "high"
	}

	id, err := h.Tickets.Create(ctx, ectx.TenantID, ticket)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	return &automation.ActionResult{
		Success: true,
		Message: "ticket created",
		Data:    map[string]any{"ticketId": id},
	}, nil
}

// WebhookHandler POSTs the execution context to the action's target
// URL. Non-2xx responses count as failures.
type WebhookHandler struct {
	Client *http.Client
}

func (h *WebhookHandler) Execute(ctx context.Context, action automation.Action, ectx *automation.ExecutionContext) (*automation.ActionResult, error) {
	if action.Target == "" {
		return nil, fmt.Errorf("webhook action has no target URL")
	}

	payload := map[string]any{
		"tenantId": ectx.TenantID,
		"ruleId":   ectx.RuleID,
		"ruleName": ectx.RuleName,
		"message":  ectx.Message,
		"params":   action.Params,
	}
	if ectx.Analysis != nil {
		payload["analysis"] = ectx.Analysis
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.Target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return &automation.ActionResult{
		Success: true,
		Message: fmt.Sprintf("webhook delivered to %s", action.Target),
		Data:    map[string]any{"status": resp.StatusCode},
	}, nil
}

// AddTagHandler tags the conversation with the action's target (or a
// `tag` param).
type AddTagHandler struct {
	Tagger Tagger
}

func (h *AddTagHandler) Execute(ctx context.Context, action automation.Action, ectx *automation.ExecutionContext) (*automation.ActionResult, error) {
	if h.Tagger == nil {
		return nil, fmt.Errorf("no tagger configured")
	}

	tag := action.Target
	if t, ok := action.Params["tag"].(string); ok && t != "" {
		tag = t
	}
	if tag == "" {
		return nil, fmt.Errorf("add_tag action has no tag")
	}

	if err := h.Tagger.Tag(ctx, ectx.TenantID, ectx.Message.ID, tag); err != nil {
		return nil, fmt.Errorf("failed to add tag: %w", err)
	}

	return &automation.ActionResult{
		Success: true,
		Message: fmt.Sprintf("tag %q added", tag),
	}, nil
}
