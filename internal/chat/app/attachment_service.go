package app

import (
	"context"
	"path"
	"strings"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/oklog/ulid/v2"
)

const maxFilenameLength = 255

// newAttachment validate the client payload and build the attachment record
func newAttachment(roomID, uploaderID string, in domain.AttachmentData, now time.Time) (*domain.Attachment, error) {
	in.Normalize()
	if in.Locator == "" {
		return nil, errprocess.New(errprocess.BadRequest, "attachment locator is required")
	}
	name := in.Filename
	if name == "" {
		name = path.Base(in.Locator)
	}
	if name == "" || name == "." || name == "/" || len(name) > maxFilenameLength || strings.ContainsAny(name, "/\\") {
		return nil, errprocess.Newf(errprocess.BadRequest, "invalid attachment filename %q", in.Filename)
	}
	if in.Size < 0 {
		return nil, errprocess.New(errprocess.BadRequest, "attachment size is negative")
	}

	att := &domain.Attachment{
		ID:         ulid.Make().String(),
		RoomID:     roomID,
		UploaderID: uploaderID,
		Filename:   name,
		MediaType:  in.MediaType,
		Size:       in.Size,
		Locator:    in.Locator,
		CreatedAt:  now,
	}
	if att.MediaType == "" {
		att.MediaType = "application/octet-stream"
	}
	att.Category = domain.CategoryOf(att.MediaType)
	if err := checkSize(att); err != nil {
		return nil, err
	}
	return att, nil
}

func checkSize(att *domain.Attachment) error {
	if limit := att.Category.MaxSize(); att.Size > limit {
		return errprocess.Newf(errprocess.BadRequest, "%s attachment exceeds %d bytes", att.Category, limit)
	}
	return nil
}

// storeAttachment resolve the object then record the metadata, before the message takes a seq
func (s *RoomSession) storeAttachment(ctx context.Context, att *domain.Attachment) error {
	err := s.retry(ctx, "attachment.resolve", func(ctx context.Context) error {
		return s.deps.Resolver.Resolve(ctx, att)
	})
	if err != nil {
		return err
	}
	// the stored object may be larger or of another type than the client claimed
	att.Category = domain.CategoryOf(att.MediaType)
	if err := checkSize(att); err != nil {
		return err
	}
	if s.deps.Attachments == nil {
		return nil
	}
	return s.retry(ctx, "attachment.create", func(ctx context.Context) error {
		return s.deps.Attachments.CreateAttachment(ctx, att)
	})
}
