package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fraudengine/pkg/domain"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	caseID := id.NewCaseID()

	require.NoError(t, n.Notify(context.Background(), caseID, EventCaseEscalated, map[string]any{"priority": "critical"}))
	assert.Contains(t, buf.String(), `"event_type":"case_escalated"`)
	assert.Contains(t, buf.String(), caseID.String())

	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), caseID, EventCaseOpened, nil))
}
