package domain

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind kind of a room event on the fan-out bus
type EventKind string

const (
	// EventMessage new message
	EventMessage EventKind = "message"
	// EventEdit message content replaced
	EventEdit EventKind = "edit"
	// EventDelete message soft deleted
	EventDelete EventKind = "delete"
	// EventTyping typing indicator changed
	EventTyping EventKind = "typing"
	// EventPresence first connection opened or last connection closed
	EventPresence EventKind = "presence"
)

// TypingState payload of EventTyping
type TypingState struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceChange payload of EventPresence
type PresenceChange struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// Event published for a room
type Event struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	RoomID     string          `json:"room_id"`
	ActorID    string          `json:"actor_id"`
	Seq        int64           `json:"seq,omitempty"`
	Revision   int             `json:"revision,omitempty"`
	Message    *Message        `json:"message,omitempty"`
	Typing     *TypingState    `json:"typing,omitempty"`
	Presence   *PresenceChange `json:"presence,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewMessageEvent wrap a message mutation; kind is EventMessage, EventEdit or EventDelete
func NewMessageEvent(kind EventKind, actorID string, m *Message, at time.Time) Event {
	copied := *m
	return Event{
		ID:         ulid.Make().String(),
		Kind:       kind,
		RoomID:     m.RoomID,
		ActorID:    actorID,
		Seq:        m.Seq,
		Revision:   m.Revision,
		Message:    &copied,
		OccurredAt: at,
	}
}

// NewTypingEvent typing indicator event
func NewTypingEvent(roomID, userID string, isTyping bool, at time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Kind:       EventTyping,
		RoomID:     roomID,
		ActorID:    userID,
		Typing:     &TypingState{UserID: userID, IsTyping: isTyping},
		OccurredAt: at,
	}
}

// NewPresenceEvent presence changed event
func NewPresenceEvent(roomID, userID string, online bool, at time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Kind:       EventPresence,
		RoomID:     roomID,
		ActorID:    userID,
		Presence:   &PresenceChange{UserID: userID, Online: online},
		OccurredAt: at,
	}
}

// IsMessageKind report message/edit/delete
func (e Event) IsMessageKind() bool {
	switch e.Kind {
	case EventMessage, EventEdit, EventDelete:
		return true
	}
	return false
}

// DedupeKey identify replays of the same delivery.
// Message kinds key on (kind, seq, revision) so two edits of one message stay distinct.
func (e Event) DedupeKey() string {
	if e.IsMessageKind() {
		return fmt.Sprintf("%s:%d:%d", e.Kind, e.Seq, e.Revision)
	}
	return string(e.Kind) + ":" + e.ID
}
