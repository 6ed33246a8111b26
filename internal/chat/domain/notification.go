package domain

import (
	"fmt"
	"time"
)

// NotificationKind 通知種類
type NotificationKind string

const (
	// NotificationMessage new message while away
	NotificationMessage NotificationKind = "message"
	// NotificationMention message mentioning the recipient
	NotificationMention NotificationKind = "mention"
	// NotificationSystem generated by the server
	NotificationSystem NotificationKind = "system"
)

// Notification durable record for a member who missed an event live
type Notification struct {
	ID          string           `bson:"_id" json:"id"`
	RecipientID string           `bson:"recipient_id" json:"recipient_id"`
	Kind        NotificationKind `bson:"kind" json:"kind"`
	RoomID      string           `bson:"room_id" json:"room_id"`
	ActorID     string           `bson:"actor_id" json:"actor_id"`
	// SourceKey reference to the originating event, unique per recipient
	SourceKey  string     `bson:"source_key" json:"source_key"`
	MessageSeq int64      `bson:"message_seq" json:"message_seq"`
	Title      string     `bson:"title" json:"title"`
	Preview    string     `bson:"preview" json:"preview"`
	Read       bool       `bson:"is_read" json:"is_read"`
	ReadAt     *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
}

// SourceKeyOf stable reference of an event, identical across replays
func SourceKeyOf(e Event) string {
	return fmt.Sprintf("%s:%d:%s", e.RoomID, e.Seq, e.Kind)
}
