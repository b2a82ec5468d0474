package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/deskflow/automation/actions"
	"github.com/deskflow/automation/internal/logger"
)

// The delivery collaborators (outbound email/chat senders, the ticket
// system, conversation tagging) live in other services. These adapters
// log the dispatched side effect; deployments replace them with real
// clients.

type loggingSender struct{}

func (loggingSender) Send(_ context.Context, tenantID, recipient, channel, body string) error {
	logger.Info("auto reply dispatched",
		"tenantId", tenantID, "recipient", recipient, "channel", channel, "bytes", len(body))
	return nil
}

type loggingTicketCreator struct{}

func (loggingTicketCreator) Create(_ context.Context, tenantID string, ticket actions.Ticket) (string, error) {
	id := uuid.New().String()
	logger.Info("ticket dispatched",
		"tenantId", tenantID, "ticketId", id, "subject", ticket.Subject, "priority", ticket.Priority)
	return id, nil
}

type loggingTagger struct{}

func (loggingTagger) Tag(_ context.Context, tenantID, messageID, tag string) error {
	logger.Info("tag dispatched", "tenantId", tenantID, "messageId", messageID, "tag", tag)
	return nil
}
