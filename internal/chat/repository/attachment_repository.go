package repository

import (
	"context"
	"errors"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"gorm.io/gorm"
)

type attachmentRepo struct {
	db *gorm.DB
}

// NewAttachmentRepo create gorm AttachmentRepository
func NewAttachmentRepo(db *gorm.DB) AttachmentRepository {
	return &attachmentRepo{db: db}
}

// AutoMigrateAttachments create or update the chat_attachments table
func AutoMigrateAttachments(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Attachment{})
}

// CreateAttachment insert metadata; URL is resolved per read and not stored
func (r *attachmentRepo) CreateAttachment(ctx context.Context, att *domain.Attachment) error {
	return r.db.WithContext(ctx).Create(att).Error
}

// LinkAttachment 只更新 message_seq
func (r *attachmentRepo) LinkAttachment(ctx context.Context, attachmentID string, seq int64) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Attachment{}).
		Where("id = ?", attachmentID).
		Update("message_seq", seq)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errprocess.ErrNotFound
	}
	return nil
}

// GetAttachment find attachment by id
func (r *attachmentRepo) GetAttachment(ctx context.Context, attachmentID string) (*domain.Attachment, error) {
	var a domain.Attachment
	err := r.db.WithContext(ctx).Where("id = ?", attachmentID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
