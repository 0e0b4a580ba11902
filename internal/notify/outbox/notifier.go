package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fraudengine/internal/notify"
	id "fraudengine/pkg/domain"
)

// Notifier implements notify.Notifier by appending to the outbox. The worker
// publishes asynchronously, so Notify succeeds once the entry is stored.
type Notifier struct {
	store Store
	now   func() time.Time
}

func NewNotifier(store Store) *Notifier {
	return &Notifier{store: store, now: time.Now}
}

func (n *Notifier) Notify(ctx context.Context, caseID id.CaseID, eventType notify.EventType, payload map[string]any) error {
	occurred := n.now().UTC()
	msg := Message{
		EventID:    uuid.New(),
		CaseID:     caseID,
		EventType:  string(eventType),
		Payload:    payload,
		OccurredAt: occurred,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.store.Append(ctx, &Entry{
		ID:        msg.EventID,
		CaseID:    caseID,
		EventType: string(eventType),
		Payload:   raw,
		CreatedAt: occurred,
	})
}

var _ notify.Notifier = (*Notifier)(nil)
