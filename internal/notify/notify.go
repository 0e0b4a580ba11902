// Package notify delivers case lifecycle events to the external notification service.
package notify

import (
	"context"
	"log/slog"

	id "fraudengine/pkg/domain"
)

// EventType names a case lifecycle event.
type EventType string

const (
	EventCaseOpened        EventType = "case_opened"
	EventCaseAssigned      EventType = "case_assigned"
	EventCaseDecided       EventType = "case_decided"
	EventCaseClosed        EventType = "case_closed"
	EventCaseEscalated     EventType = "case_escalated"
	EventReversalCompleted EventType = "reversal_completed"
	EventReversalFailed    EventType = "reversal_failed"
)

// Notifier hands an event to the notification collaborator. A nil error means
// the event is durably accepted, not that it reached a recipient.
type Notifier interface {
	Notify(ctx context.Context, caseID id.CaseID, eventType EventType, payload map[string]any) error
}

// LogNotifier writes events to the log. Used when no outbox is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, caseID id.CaseID, eventType EventType, payload map[string]any) error {
	if n.logger != nil {
		n.logger.InfoContext(ctx, "case notification",
			"case_id", caseID,
			"event_type", eventType,
			"payload", payload)
	}
	return nil
}
