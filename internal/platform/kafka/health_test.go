package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestHealthChecker_Unconfigured(t *testing.T) {
	err := NewHealthChecker("").Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
