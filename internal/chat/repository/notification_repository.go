package repository

import (
	"context"
	"errors"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// NotificationSchema chat_notifications table; UNIQUE(recipient_id, source_key) makes create idempotent
const NotificationSchema = `
CREATE TABLE IF NOT EXISTS chat_notifications (
	id          TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	room_id     TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	source_key  TEXT NOT NULL,
	message_seq BIGINT NOT NULL DEFAULT 0,
	title       TEXT NOT NULL DEFAULT '',
	preview     TEXT NOT NULL DEFAULT '',
	is_read     BOOLEAN NOT NULL DEFAULT FALSE,
	read_at     TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (recipient_id, source_key)
);
CREATE INDEX IF NOT EXISTS idx_chat_notifications_recipient
	ON chat_notifications (recipient_id, created_at DESC);
`

const notificationColumns = "id, recipient_id, kind, room_id, actor_id, source_key, message_seq, title, preview, is_read, read_at, created_at"

type notificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository create a postgres NotificationRepository
func NewNotificationRepository(db *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{db: db}
}

// MigrateNotifications apply NotificationSchema
func MigrateNotifications(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, NotificationSchema)
	return err
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var kind string
	err := row.Scan(&n.ID, &n.RecipientID, &kind, &n.RoomID, &n.ActorID, &n.SourceKey,
		&n.MessageSeq, &n.Title, &n.Preview, &n.Read, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Kind = domain.NotificationKind(kind)
	return &n, nil
}

func (r *notificationRepository) CreateNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO chat_notifications("+notificationColumns+") VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) ON CONFLICT (recipient_id, source_key) DO NOTHING",
		n.ID, n.RecipientID, string(n.Kind), n.RoomID, n.ActorID, n.SourceKey,
		n.MessageSeq, n.Title, n.Preview, n.Read, n.ReadAt, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *notificationRepository) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.db.QueryRow(ctx, "SELECT "+notificationColumns+" FROM chat_notifications WHERE id = $1", id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errprocess.ErrNotFound
	}
	return n, err
}

func (r *notificationRepository) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		"SELECT "+notificationColumns+" FROM chat_notifications WHERE recipient_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkNotificationRead COALESCE keeps the first read time
func (r *notificationRepository) MarkNotificationRead(ctx context.Context, id, userID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE chat_notifications SET is_read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND recipient_id = $2",
		id, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetNotification(ctx, id); err != nil {
		return err
	}
	return errprocess.New(errprocess.NotOwner, "notification belongs to another user")
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE chat_notifications SET is_read = TRUE, read_at = $2 WHERE recipient_id = $1 AND NOT is_read",
		userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM chat_notifications WHERE recipient_id = $1 AND NOT is_read", userID).Scan(&n)
	return n, err
}

func (r *notificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM chat_notifications WHERE is_read AND created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
