package main

import (
	"time"

	"github.com/deskflow/automation/automation"
)

// processMessageRequest is the inbound message envelope. The ingestion
// layer normalizes channel-specific payloads into this shape before
// calling us.
type processMessageRequest struct {
	TenantID string         `json:"tenantId"`
	Message  messagePayload `json:"message"`
}

type messagePayload struct {
	ID        string         `json:"id,omitempty"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender"`
	Subject   string         `json:"subject,omitempty"`
	Channel   string         `json:"channel"`
	Priority  int            `json:"priority,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p messagePayload) toMessage() automation.Message {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return automation.Message{
		ID:        p.ID,
		Content:   p.Content,
		Sender:    p.Sender,
		Subject:   p.Subject,
		Channel:   p.Channel,
		Priority:  p.Priority,
		Timestamp: ts,
		Metadata:  p.Metadata,
	}
}

// ruleRequest is the create/update payload for one automation rule.
type ruleRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Trigger     automation.Trigger  `json:"trigger"`
	Actions     []automation.Action `json:"actions"`
	Enabled     bool                `json:"enabled"`
	Priority    int                 `json:"priority"`
	AIEnabled   bool                `json:"aiEnabled"`
}

func (r ruleRequest) toRule(id, tenantID string) *automation.Rule {
	return &automation.Rule{
		ID:          id,
		TenantID:    tenantID,
		Name:        r.Name,
		Description: r.Description,
		Trigger:     r.Trigger,
		Actions:     r.Actions,
		Enabled:     r.Enabled,
		Priority:    r.Priority,
		AIEnabled:   r.AIEnabled,
	}
}

// testRuleRequest carries the synthetic message for a dry run.
type testRuleRequest struct {
	Message messagePayload `json:"message"`
}

type toggleRuleRequest struct {
	Enabled bool `json:"enabled"`
}
