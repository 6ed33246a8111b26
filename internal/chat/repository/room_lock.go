package repository

import (
	"context"
	"fmt"
	"time"

	"realtime_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// unlockScript delete the lock only while we still own it
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRoomLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisRoomLocker create RoomLocker over SET NX PX
func NewRedisRoomLocker(client *redis.Client, ttl time.Duration) RoomLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &redisRoomLocker{client: client, ttl: ttl, wait: 20 * time.Millisecond}
}

func lockKey(roomID string) string {
	return "lock:room:" + roomID
}

// Lock spin until acquired or ctx done
func (l *redisRoomLocker) Lock(ctx context.Context, roomID string) (func(), error) {
	key := lockKey(roomID)
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("room lock %s: %w", roomID, err)
		}
		if ok {
			return func() {
				// ctx may already be done when the op timed out
				c, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := unlockScript.Run(c, l.client, []string{key}, token).Err(); err != nil {
					logger.Log.Warn("room.lock.release", zap.String("room_id", roomID), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.wait):
		}
	}
}

// NopRoomLocker single process; the room session mailbox already serializes writers
type NopRoomLocker struct{}

// Lock no-op
func (NopRoomLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
