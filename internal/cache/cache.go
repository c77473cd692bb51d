// Package cache keeps recently read chat histories in redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskboard/taskchat/internal/domain"
)

type HistoryCache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(client *redis.Client, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HistoryCache{R: client, TTL: ttl}
}

func Key(chatID domain.ChatID) string { return "chat:history:" + chatID.String() }

// Get returns found=false on a miss.
func (c *HistoryCache) Get(ctx context.Context, chatID domain.ChatID) ([]domain.Message, bool, error) {
	b, err := c.R.Get(ctx, Key(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var msgs []domain.Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, false, err
	}
	return msgs, true, nil
}

func (c *HistoryCache) Set(ctx context.Context, chatID domain.ChatID, msgs []domain.Message) error {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, Key(chatID), b, c.TTL).Err()
}

func (c *HistoryCache) Invalidate(ctx context.Context, chatID domain.ChatID) error {
	return c.R.Del(ctx, Key(chatID)).Err()
}

func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.R.Ping(ctx).Err()
}
