package repository

import (
	"context"
	"sync"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// MemoryPubSub in-process EventBus and NotificationChannel.
// A subscriber whose buffer is full is closed rather than blocking the publisher.
type MemoryPubSub struct {
	mu     sync.RWMutex
	buffer int
	rooms  map[string]map[*memorySub[domain.Event]]struct{}
	all    map[*memorySub[domain.Event]]struct{}
	users  map[string]map[*memorySub[domain.Notification]]struct{}
}

// NewMemoryPubSub create MemoryPubSub with a per subscriber buffer
func NewMemoryPubSub(buffer int) *MemoryPubSub {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryPubSub{
		buffer: buffer,
		rooms:  make(map[string]map[*memorySub[domain.Event]]struct{}),
		all:    make(map[*memorySub[domain.Event]]struct{}),
		users:  make(map[string]map[*memorySub[domain.Notification]]struct{}),
	}
}

type memorySub[T any] struct {
	mu          sync.Mutex
	ch          chan T
	closed      bool
	once        sync.Once
	unsubscribe func()
	topic       string
}

func (s *memorySub[T]) C() <-chan T {
	return s.ch
}

func (s *memorySub[T]) deliver(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		logger.Log.Warn("pubsub.subscriber.overflow", zap.String("topic", s.topic))
		s.closed = true
		close(s.ch)
	}
}

func (s *memorySub[T]) Close() error {
	s.once.Do(func() {
		s.unsubscribe()
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	})
	return nil
}

// Publish deliver ev to subscribers of roomID and to SubscribeAll subscribers
func (p *MemoryPubSub) Publish(_ context.Context, roomID string, ev domain.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for s := range p.rooms[roomID] {
		s.deliver(ev)
	}
	for s := range p.all {
		s.deliver(ev)
	}
	return nil
}

// Subscribe stream events of roomID
func (p *MemoryPubSub) Subscribe(_ context.Context, roomID string) (Subscription[domain.Event], error) {
	s := &memorySub[domain.Event]{ch: make(chan domain.Event, p.buffer), topic: RoomChannel(roomID)}
	p.mu.Lock()
	if p.rooms[roomID] == nil {
		p.rooms[roomID] = make(map[*memorySub[domain.Event]]struct{})
	}
	p.rooms[roomID][s] = struct{}{}
	p.mu.Unlock()

	s.unsubscribe = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.rooms[roomID], s)
		if len(p.rooms[roomID]) == 0 {
			delete(p.rooms, roomID)
		}
	}
	return s, nil
}

// SubscribeAll stream events of every room
func (p *MemoryPubSub) SubscribeAll(_ context.Context) (Subscription[domain.Event], error) {
	s := &memorySub[domain.Event]{ch: make(chan domain.Event, p.buffer), topic: roomChannelPrefix + "*"}
	p.mu.Lock()
	p.all[s] = struct{}{}
	p.mu.Unlock()

	s.unsubscribe = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.all, s)
	}
	return s, nil
}

// PublishNotification deliver n to the user's subscribers
func (p *MemoryPubSub) PublishNotification(_ context.Context, userID string, n domain.Notification) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for s := range p.users[userID] {
		s.deliver(n)
	}
	return nil
}

// SubscribeNotifications stream notifications of userID
func (p *MemoryPubSub) SubscribeNotifications(_ context.Context, userID string) (Subscription[domain.Notification], error) {
	s := &memorySub[domain.Notification]{ch: make(chan domain.Notification, p.buffer), topic: UserChannel(userID)}
	p.mu.Lock()
	if p.users[userID] == nil {
		p.users[userID] = make(map[*memorySub[domain.Notification]]struct{})
	}
	p.users[userID][s] = struct{}{}
	p.mu.Unlock()

	s.unsubscribe = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.users[userID], s)
		if len(p.users[userID]) == 0 {
			delete(p.users, userID)
		}
	}
	return s, nil
}
