// Package outbox persists notifications before they are published to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "fraudengine/pkg/domain"
)

// Entry is a pending notification. Payload is the JSON encoded Message.
type Entry struct {
	ID          uuid.UUID
	CaseID      id.CaseID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// Message is the wire format published to the notification topic.
type Message struct {
	EventID    uuid.UUID      `json:"event_id"`
	CaseID     id.CaseID      `json:"case_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Store is the outbox persistence port. Implementations must be safe for
// concurrent use.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, entryID uuid.UUID, processedAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
