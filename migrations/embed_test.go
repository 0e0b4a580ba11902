package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpFiles(t *testing.T) {
	files, err := UpFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"000001_create_tokens.up.sql",
		"000002_create_fraud_cases.up.sql",
		"000003_create_reversal_records.up.sql",
		"000004_create_notification_outbox.up.sql",
	}, files)

	for _, f := range files {
		down := f[:len(f)-len(".up.sql")] + ".down.sql"
		_, err := fs.Stat(FS, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestReversalRecordsAreUniquePerTransaction(t *testing.T) {
	raw, err := fs.ReadFile(FS, "000003_create_reversal_records.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "transaction_id       UUID        NOT NULL UNIQUE")
}
