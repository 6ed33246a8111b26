package domain

import (
	"encoding/json"
	"strings"
)

// FrameType websocket frame type
type FrameType string

const (
	// FrameJoin join snapshot
	FrameJoin FrameType = "join"
	// FrameLeave graceful leave
	FrameLeave FrameType = "leave"
	// FrameMessage text message
	FrameMessage FrameType = "message"
	// FrameAttachment message with attachment
	FrameAttachment FrameType = "attachment"
	// FrameTyping typing indicator
	FrameTyping FrameType = "typing"
	// FrameEdit message edited
	FrameEdit FrameType = "edit"
	// FrameDelete message deleted
	FrameDelete FrameType = "delete"
	// FramePresence user online state in the room
	FramePresence FrameType = "presence"
	// FrameError error returned to the originating connection only
	FrameError FrameType = "error"

	// FrameNotification notification socket push
	FrameNotification FrameType = "notification"
	// FrameUnreadCount notification socket greeting
	FrameUnreadCount FrameType = "unread_count"
	// FramePing client keepalive
	FramePing FrameType = "ping"
	// FramePong reply to FramePing
	FramePong FrameType = "pong"
)

// Close codes sent before terminating a connection
const (
	CloseUnauthorized = 4001
	CloseNotAMember   = 4003
	CloseSlowConsumer = 4008
)

// InboundFrame frame read from a client
type InboundFrame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame frame written to a client
type OutboundFrame struct {
	Type FrameType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// MessageData inbound message payload
type MessageData struct {
	Content     string `json:"content"`
	ReplyTo     *int64 `json:"reply_to,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// AttachmentData inbound attachment payload; file_* keys are accepted as aliases
type AttachmentData struct {
	Filename    string `json:"filename"`
	Locator     string `json:"locator"`
	FileURL     string `json:"file_url"`
	MediaType   string `json:"media_type"`
	FileType    string `json:"file_type"`
	Size        int64  `json:"size"`
	FileSize    int64  `json:"file_size"`
	Content     string `json:"content"`
	ReplyTo     *int64 `json:"reply_to,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// Normalize fold aliases into the canonical fields
func (a *AttachmentData) Normalize() {
	if a.Locator == "" {
		a.Locator = a.FileURL
	}
	if a.MediaType == "" {
		a.MediaType = a.FileType
	}
	if a.Size == 0 {
		a.Size = a.FileSize
	}
	a.Filename = strings.TrimSpace(a.Filename)
}

// TypingData inbound typing payload
type TypingData struct {
	IsTyping *bool `json:"is_typing"`
}

// EditData inbound edit payload
type EditData struct {
	MessageID *int64 `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteData inbound delete payload
type DeleteData struct {
	MessageID *int64 `json:"message_id"`
}

// ErrorData outbound error payload
type ErrorData struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// JoinData outbound join snapshot
type JoinData struct {
	RoomID   string    `json:"room_id"`
	Kind     RoomKind  `json:"kind"`
	Members  []string  `json:"members"`
	Online   []string  `json:"online"`
	Messages []Message `json:"messages"`
}

// LeaveData outbound leave acknowledgement
type LeaveData struct {
	RoomID string `json:"room_id"`
}

// FrameFromEvent render a bus event as the frame clients see
func FrameFromEvent(e Event) OutboundFrame {
	switch e.Kind {
	case EventMessage:
		if e.Message != nil && e.Message.Attachment != nil {
			return OutboundFrame{Type: FrameAttachment, Data: e.Message}
		}
		return OutboundFrame{Type: FrameMessage, Data: e.Message}
	case EventEdit:
		return OutboundFrame{Type: FrameEdit, Data: e.Message}
	case EventDelete:
		return OutboundFrame{Type: FrameDelete, Data: e.Message}
	case EventTyping:
		return OutboundFrame{Type: FrameTyping, Data: e.Typing}
	case EventPresence:
		return OutboundFrame{Type: FramePresence, Data: e.Presence}
	default:
		return OutboundFrame{Type: FrameType(e.Kind), Data: e}
	}
}
