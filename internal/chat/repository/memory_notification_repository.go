package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"
)

// MemoryNotificationRepository in-process NotificationRepository
type MemoryNotificationRepository struct {
	mu       sync.Mutex
	byID     map[string]*domain.Notification
	bySource map[string]string
}

// NewMemoryNotificationRepository create MemoryNotificationRepository
func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{
		byID:     make(map[string]*domain.Notification),
		bySource: make(map[string]string),
	}
}

func sourceIndex(recipientID, sourceKey string) string {
	return recipientID + "|" + sourceKey
}

// CreateNotification insert unless the recipient already has one for the source
func (r *MemoryNotificationRepository) CreateNotification(_ context.Context, n *domain.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sourceIndex(n.RecipientID, n.SourceKey)
	if _, ok := r.bySource[key]; ok {
		return false, nil
	}
	c := *n
	r.byID[n.ID] = &c
	r.bySource[key] = n.ID
	return true, nil
}

// GetNotification find notification by id
func (r *MemoryNotificationRepository) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return nil, errprocess.ErrNotFound
	}
	c := *n
	return &c, nil
}

// ListNotifications newest first
func (r *MemoryNotificationRepository) ListNotifications(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.byID {
		if n.RecipientID == userID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationRead set read, keeping the first read time
func (r *MemoryNotificationRepository) MarkNotificationRead(_ context.Context, id, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return errprocess.ErrNotFound
	}
	if n.RecipientID != userID {
		return errprocess.New(errprocess.NotOwner, "notification belongs to another user")
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
	}
	return nil
}

// MarkAllRead mark every unread notification of userID
func (r *MemoryNotificationRepository) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, x := range r.byID {
		if x.RecipientID == userID && !x.Read {
			x.Read = true
			x.ReadAt = &at
			n++
		}
	}
	return n, nil
}

// CountUnread unread notifications of userID
func (r *MemoryNotificationRepository) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, x := range r.byID {
		if x.RecipientID == userID && !x.Read {
			n++
		}
	}
	return n, nil
}

// DeleteReadBefore purge read notifications created before cutoff
func (r *MemoryNotificationRepository) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, x := range r.byID {
		if x.Read && x.CreatedAt.Before(cutoff) {
			delete(r.byID, id)
			delete(r.bySource, sourceIndex(x.RecipientID, x.SourceKey))
			n++
		}
	}
	return n, nil
}
