package domain

import (
	"strings"
	"time"
)

// MessageType 訊息種類
type MessageType string

const (
	// MessageText plain text
	MessageText MessageType = "text"
	// MessageAttachment message carrying an attachment
	MessageAttachment MessageType = "attachment"
	// MessageSystem generated by the server
	MessageSystem MessageType = "system"
)

// Message 表示一則聊天訊息; Seq is the per room id assigned by the room session
type Message struct {
	RoomID     string      `bson:"room_id" json:"room_id"`
	Seq        int64       `bson:"seq" json:"seq"`
	Type       MessageType `bson:"type" json:"type"`
	SenderID   string      `bson:"sender_id" json:"sender_id"`
	Content    string      `bson:"content" json:"content"`
	ReplyTo    *int64      `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Attachment *Attachment `bson:"attachment,omitempty" json:"attachment,omitempty"`
	// Nonce dedupes appends per sender; the server fills one in when the client sent none
	Nonce       string `bson:"nonce,omitempty" json:"-"`
	ClientMsgID string `bson:"client_msg_id,omitempty" json:"client_msg_id,omitempty"`
	// Revision bumps on every edit and on delete
	Revision  int        `bson:"revision" json:"revision"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EditedAt  *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Deleted   bool       `bson:"deleted" json:"deleted"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// Mentions return user ids referenced as @<id> in content
func (m *Message) Mentions() []string {
	var out []string
	for _, f := range strings.Fields(m.Content) {
		if len(f) > 1 && f[0] == '@' {
			out = append(out, strings.TrimRight(f[1:], ".,!?:;"))
		}
	}
	return out
}

// Preview first n runes of content
func (m *Message) Preview(n int) string {
	r := []rune(m.Content)
	if len(r) <= n {
		return m.Content
	}
	return string(r[:n]) + "..."
}

// AttachmentCategory 檔案種類
type AttachmentCategory string

const (
	// CategoryImage image/*
	CategoryImage AttachmentCategory = "image"
	// CategoryVideo video/*
	CategoryVideo AttachmentCategory = "video"
	// CategoryAudio audio/*
	CategoryAudio AttachmentCategory = "audio"
	// CategoryDocument pdf, office, text
	CategoryDocument AttachmentCategory = "document"
	// CategoryFile anything else
	CategoryFile AttachmentCategory = "file"
)

const mb = 1024 * 1024

// MaxSize upload limit of the category
func (c AttachmentCategory) MaxSize() int64 {
	switch c {
	case CategoryImage, CategoryDocument:
		return 10 * mb
	case CategoryVideo:
		return 50 * mb
	case CategoryAudio:
		return 20 * mb
	default:
		return 25 * mb
	}
}

// CategoryOf classify a media type
func CategoryOf(mediaType string) AttachmentCategory {
	mt := strings.ToLower(mediaType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case strings.HasPrefix(mt, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mt, "audio/"):
		return CategoryAudio
	case mt == "application/pdf",
		strings.HasPrefix(mt, "text/"),
		strings.Contains(mt, "msword"),
		strings.Contains(mt, "officedocument"),
		strings.Contains(mt, "opendocument"):
		return CategoryDocument
	default:
		return CategoryFile
	}
}

// Attachment file referenced by a message; MessageSeq stays nil until the message is assigned.
// Stored in postgres, and embedded in the message document it belongs to.
type Attachment struct {
	ID         string             `bson:"_id" json:"id" gorm:"primaryKey"`
	RoomID     string             `bson:"room_id" json:"room_id" gorm:"index:idx_attachment_room"`
	MessageSeq *int64             `bson:"message_seq" json:"message_seq,omitempty" gorm:"index:idx_attachment_room"`
	UploaderID string             `bson:"uploader_id" json:"uploader_id"`
	Filename   string             `bson:"filename" json:"filename"`
	MediaType  string             `bson:"media_type" json:"media_type"`
	Category   AttachmentCategory `bson:"category" json:"category"`
	Size       int64              `bson:"size" json:"size"`
	Locator    string             `bson:"locator" json:"locator"`
	URL        string             `bson:"url,omitempty" json:"url,omitempty" gorm:"-"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// TableName gorm table
func (Attachment) TableName() string {
	return "chat_attachments"
}
