// Package lock provides a Redis lease that serializes turn pipelines per chat.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("chat lock is held by another request")

// DefaultTTL must outlive a full turn: triage and generation timeouts plus
// the two writes.
const DefaultTTL = 3 * time.Minute

// releaseScript deletes the key only if it still carries our token, so an
// expired lease never removes a lock taken over by someone else.
var releaseScript = redisv9.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type ChatLocker struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewChatLocker(client *redisv9.Client, ttl time.Duration) *ChatLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ChatLocker{client: client, ttl: ttl}
}

// Acquire takes the lease for chatID. The returned release func is safe to
// call more than once.
func (l *ChatLocker) Acquire(ctx context.Context, chatID uint) (func(), error) {
	key := Key(chatID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis acquire chat lock failed: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

func Key(chatID uint) string {
	return fmt.Sprintf("chat:turn:lock:%d", chatID)
}
