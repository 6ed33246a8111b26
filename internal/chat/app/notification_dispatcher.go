package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg"
	"realtime_chat_service/pkg/config"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	previewLength         = 100
	defaultRetention      = 90 * 24 * time.Hour
	defaultJanitorEvery   = time.Hour
	defaultNotificationsN = 50
)

// DispatcherDeps collaborators of NotificationDispatcher
type DispatcherDeps struct {
	Rooms         repository.RoomRepository
	Presence      repository.PresenceRegistry
	Notifications repository.NotificationRepository
	// Pushers run for every newly created notification, in order
	Pushers   []repository.NotificationPusher
	Retry     config.Retry
	Retention time.Duration
	// JanitorEvery interval of the read notification purge
	JanitorEvery time.Duration
	Now          func() time.Time
}

// NotificationDispatcher turn message events into notifications for members who were not there to see them
type NotificationDispatcher struct {
	deps DispatcherDeps
}

// NewNotificationDispatcher create NotificationDispatcher
func NewNotificationDispatcher(deps DispatcherDeps) *NotificationDispatcher {
	deps.Retry = deps.Retry.WithDefaults()
	if deps.Retention <= 0 {
		deps.Retention = defaultRetention
	}
	if deps.JanitorEvery <= 0 {
		deps.JanitorEvery = defaultJanitorEvery
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &NotificationDispatcher{deps: deps}
}

// Run consume src and purge old read notifications until ctx is done
func (d *NotificationDispatcher) Run(ctx context.Context, src repository.EventSource) error {
	go d.janitor(ctx)
	err := src.Consume(ctx, d.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle create a notification per absent member; replays of the same event are no-ops
func (d *NotificationDispatcher) Handle(ctx context.Context, ev domain.Event) error {
	if ev.Kind != domain.EventMessage || ev.Message == nil {
		return nil
	}

	var members []string
	err := withRetry(ctx, d.deps.Retry, "room.members", func(ctx context.Context) error {
		var err error
		members, err = d.deps.Rooms.GetMembers(ctx, ev.RoomID)
		return err
	})
	if errors.Is(err, errprocess.ErrNotFound) {
		logger.Log.Warn("notification.room_missing", zap.String("room_id", ev.RoomID))
		return nil
	}
	if err != nil {
		return err
	}

	mentions := ev.Message.Mentions()
	for _, userID := range pkg.Remove(members, ev.ActorID) {
		if err := d.notify(ctx, ev, userID, pkg.Contains(mentions, userID)); err != nil {
			return err
		}
	}
	return nil
}

func (d *NotificationDispatcher) notify(ctx context.Context, ev domain.Event, userID string, mentioned bool) error {
	var present bool
	err := withRetry(ctx, d.deps.Retry, "presence.is_present", func(ctx context.Context) error {
		var err error
		present, err = d.deps.Presence.IsPresent(ctx, userID, ev.RoomID)
		return err
	})
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	n := &domain.Notification{
		ID:          ulid.Make().String(),
		RecipientID: userID,
		Kind:        domain.NotificationMessage,
		RoomID:      ev.RoomID,
		ActorID:     ev.ActorID,
		SourceKey:   domain.SourceKeyOf(ev),
		MessageSeq:  ev.Seq,
		Title:       fmt.Sprintf("New message from %s", ev.ActorID),
		Preview:     ev.Message.Preview(previewLength),
		CreatedAt:   d.deps.Now(),
	}
	if mentioned {
		n.Kind = domain.NotificationMention
		n.Title = fmt.Sprintf("%s mentioned you", ev.ActorID)
	}
	if ev.Message.Attachment != nil && n.Preview == "" {
		n.Preview = "[" + string(ev.Message.Attachment.Category) + "] " + ev.Message.Attachment.Filename
	}

	var created bool
	err = withRetry(ctx, d.deps.Retry, "notification.create", func(ctx context.Context) error {
		var err error
		created, err = d.deps.Notifications.CreateNotification(ctx, n)
		return err
	})
	if err != nil || !created {
		return err
	}
	metrics.NotificationsCreated.Inc()

	for _, p := range d.deps.Pushers {
		if err := p.Push(ctx, *n); err != nil {
			logger.Log.Warn("notification.push", zap.String("notification_id", n.ID), zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// MarkRead mark one notification of userID read
func (d *NotificationDispatcher) MarkRead(ctx context.Context, id, userID string) error {
	err := d.deps.Notifications.MarkNotificationRead(ctx, id, userID, d.deps.Now())
	if errors.Is(err, errprocess.ErrNotFound) {
		return errprocess.Newf(errprocess.NotFound, "notification %s not found", id)
	}
	return err
}

// MarkAllRead mark every notification of userID read
func (d *NotificationDispatcher) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return d.deps.Notifications.MarkAllRead(ctx, userID, d.deps.Now())
}

// UnreadCount unread notifications of userID
func (d *NotificationDispatcher) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return d.deps.Notifications.CountUnread(ctx, userID)
}

// List newest notifications of userID
func (d *NotificationDispatcher) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationsN
	}
	out, err := d.deps.Notifications.ListNotifications(ctx, userID, limit)
	if out == nil {
		out = []domain.Notification{}
	}
	return out, err
}

func (d *NotificationDispatcher) janitor(ctx context.Context) {
	ticker := time.NewTicker(d.deps.JanitorEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.purgeRead(ctx)
		}
	}
}

// purgeRead drop read notifications older than the retention
func (d *NotificationDispatcher) purgeRead(ctx context.Context) {
	cutoff := d.deps.Now().Add(-d.deps.Retention)
	n, err := d.deps.Notifications.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		logger.Log.Warn("notification.purge", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Log.Info("notification.purge", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
}
