package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "fraudengine/pkg/domain"
)

func TestCaller(t *testing.T) {
	ctx := context.Background()
	_, ok := Caller(ctx)
	assert.False(t, ok)

	_, ok = Caller(WithCaller(ctx, id.UserID{}))
	assert.False(t, ok, "nil caller is treated as anonymous")

	user := id.UserID(id.NewCaseID())
	got, ok := Caller(WithCaller(ctx, user))
	assert.True(t, ok)
	assert.Equal(t, user, got)
}

func TestNowFallsBackToWallClock(t *testing.T) {
	pinned := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, pinned, Now(WithTime(context.Background(), pinned)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}
