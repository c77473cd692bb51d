package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskchat/internal/domain"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "chat:history:T1", Key("T1"))
}

// Runs against a real redis when TEST_REDIS_ADDR is set.
func TestHistoryCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := New(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	defer c.R.Close()

	chatID := domain.ChatID("cache-test")
	require.NoError(t, c.Invalidate(ctx, chatID))

	_, found, err := c.Get(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, chatID, []domain.Message{{ID: "1", AuthorID: "u", Body: "hi", CreatedAt: 1}}))
	msgs, found, err := c.Get(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, msgs, 1)
}
