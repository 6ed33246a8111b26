package repository

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"
)

// RoomRepository definition chat room store
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	GetMembers(ctx context.Context, roomID string) ([]string, error)
	AddMember(ctx context.Context, roomID, userID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	FindDirectRoom(ctx context.Context, userA, userB string) (*domain.Room, error)
}

// MessageRepository definition message store.
// AppendMessage assigns the next seq of the room atomically; a message whose
// Nonce was already stored in the room by the same sender returns the stored
// message instead.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	GetMessage(ctx context.Context, roomID string, seq int64) (*domain.Message, error)
	MarkEdited(ctx context.Context, roomID string, seq int64, content string, at time.Time) (*domain.Message, error)
	MarkDeleted(ctx context.Context, roomID string, seq int64, at time.Time) (*domain.Message, error)
	// ListMessages return up to limit messages with seq < beforeSeq (0 = newest), ascending
	ListMessages(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]domain.Message, error)
	LatestSeq(ctx context.Context, roomID string) (int64, error)
}

// AttachmentRepository definition attachment metadata; the object itself lives in object storage
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, att *domain.Attachment) error
	LinkAttachment(ctx context.Context, attachmentID string, seq int64) error
	GetAttachment(ctx context.Context, attachmentID string) (*domain.Attachment, error)
}

// NotificationRepository definition notification store; every write is idempotent
type NotificationRepository interface {
	// CreateNotification report false when (recipient, source key) already exists
	CreateNotification(ctx context.Context, n *domain.Notification) (bool, error)
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PresenceRegistry track live connections per (user, room) across processes.
// Entries expire unless refreshed; Register doubles as the heartbeat.
type PresenceRegistry interface {
	Register(ctx context.Context, userID, roomID, connID string) error
	// Unregister report whether the user still has another live connection in the room
	Unregister(ctx context.Context, userID, roomID, connID string) (bool, error)
	IsPresent(ctx context.Context, userID, roomID string) (bool, error)
	OnlineUsers(ctx context.Context, roomID string) ([]string, error)
	RoomsOf(ctx context.Context, userID string) ([]string, error)
	// Purge drop expired entries of the room and return users left with no live entry
	Purge(ctx context.Context, roomID string) ([]string, error)
}

// Subscription stream of T until Close; the channel closes when the subscription ends
type Subscription[T any] interface {
	C() <-chan T
	Close() error
}

// EventBus fan-out of room events, ordered per room topic, at-least-once
type EventBus interface {
	Publish(ctx context.Context, roomID string, ev domain.Event) error
	Subscribe(ctx context.Context, roomID string) (Subscription[domain.Event], error)
	SubscribeAll(ctx context.Context) (Subscription[domain.Event], error)
}

// NotificationChannel per user live notification push
type NotificationChannel interface {
	PublishNotification(ctx context.Context, userID string, n domain.Notification) error
	SubscribeNotifications(ctx context.Context, userID string) (Subscription[domain.Notification], error)
}

// RoomLocker serialize writers of one room across processes
type RoomLocker interface {
	Lock(ctx context.Context, roomID string) (unlock func(), err error)
}

// AttachmentResolver confirm an attachment's object and fill authoritative size, type and URL
type AttachmentResolver interface {
	Resolve(ctx context.Context, att *domain.Attachment) error
}

// EventSource feed of every room event for background consumers
type EventSource interface {
	Consume(ctx context.Context, handle func(context.Context, domain.Event) error) error
}

// NotificationPusher deliver a created notification to an outside channel
type NotificationPusher interface {
	Push(ctx context.Context, n domain.Notification) error
}

const (
	roomChannelPrefix = "chat:room:"
	userChannelPrefix = "chat:user:"
)

// RoomChannel pub/sub topic of a room
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// UserChannel pub/sub topic of a user's notifications
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}
