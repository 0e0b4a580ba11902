package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fraudengine/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
//
// Justification: This is a pure function enforcing a domain invariant
// at trust boundaries.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTokenID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCaseID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTransactionID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParseUserID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(raw), id)
	})
}

func TestIDs_JSONRoundTripAsString(t *testing.T) {
	raw := uuid.New()
	payload := struct {
		Token TokenID `json:"token_id"`
	}{Token: TokenID(raw)}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token_id":"`+raw.String()+`"}`, string(data))

	var decoded struct {
		Token TokenID `json:"token_id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, payload.Token, decoded.Token)
}
