package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"triagechat/internal/model"
)

// HistoryCache keeps a short-lived copy of a chat's full message list. A
// dirty marker is set before every write so readers never repopulate the
// cache with a list that is about to change.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetHistory(ctx context.Context, chatID uint) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, historyKey(chatID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, chatID uint, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(chatID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, chatID uint) error {
	if err := c.client.Del(ctx, historyKey(chatID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, chatID uint) error {
	if err := c.client.Set(ctx, dirtyKey(chatID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, chatID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, dirtyKey(chatID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func historyKey(chatID uint) string {
	return fmt.Sprintf("chat:history:%d", chatID)
}

func dirtyKey(chatID uint) string {
	return fmt.Sprintf("chat:history:dirty:%d", chatID)
}
