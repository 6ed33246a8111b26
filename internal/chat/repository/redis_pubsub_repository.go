package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPubSub definition redis pub/sub, EventBus and NotificationChannel across processes
type RedisPubSub struct {
	client *redis.Client
	buffer int
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client, buffer int) *RedisPubSub {
	if buffer <= 0 {
		buffer = 1024
	}
	return &RedisPubSub{
		client: client,
		buffer: buffer,
	}
}

func (r *RedisPubSub) publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Publish 將 event 序列化後，發布到 room channel
func (r *RedisPubSub) Publish(ctx context.Context, roomID string, ev domain.Event) error {
	return r.publish(ctx, RoomChannel(roomID), ev)
}

// Subscribe 訂閱 room channel
func (r *RedisPubSub) Subscribe(ctx context.Context, roomID string) (Subscription[domain.Event], error) {
	return subscribe[domain.Event](ctx, r.client.Subscribe(ctx, RoomChannel(roomID)), r.buffer)
}

// SubscribeAll 訂閱所有 room channel
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (Subscription[domain.Event], error) {
	return subscribe[domain.Event](ctx, r.client.PSubscribe(ctx, roomChannelPrefix+"*"), r.buffer)
}

// PublishNotification 發布到 user channel
func (r *RedisPubSub) PublishNotification(ctx context.Context, userID string, n domain.Notification) error {
	return r.publish(ctx, UserChannel(userID), n)
}

// SubscribeNotifications 訂閱自己 member ID
func (r *RedisPubSub) SubscribeNotifications(ctx context.Context, userID string) (Subscription[domain.Notification], error) {
	return subscribe[domain.Notification](ctx, r.client.Subscribe(ctx, UserChannel(userID)), r.buffer)
}

type redisSubscription[T any] struct {
	ps   *redis.PubSub
	out  chan T
	done chan struct{}
	once sync.Once
}

// subscribe wait for the subscription to be confirmed so no publish after return is missed
func subscribe[T any](ctx context.Context, ps *redis.PubSub, buffer int) (Subscription[T], error) {
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	s := &redisSubscription[T]{
		ps:   ps,
		out:  make(chan T, buffer),
		done: make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

func (s *redisSubscription[T]) run(ctx context.Context) {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			var v T
			if err := json.Unmarshal([]byte(m.Payload), &v); err != nil {
				logger.Log.Error("pubsub.decode", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			select {
			case s.out <- v:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			logger.Log.Debug("pubsub.subscription.ctx_done")
			s.ps.Close()
			return
		}
	}
}

func (s *redisSubscription[T]) C() <-chan T {
	return s.out
}

func (s *redisSubscription[T]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
