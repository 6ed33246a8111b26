package repository

import (
	"context"
	"net/url"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/minio/minio-go/v7"
)

// ObjectStore subset of *minio.Client
type ObjectStore interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinIOAttachmentResolver take size and content type from the stored object, not from the client
type MinIOAttachmentResolver struct {
	store  ObjectStore
	bucket string
	expiry time.Duration
}

// NewMinIOAttachmentResolver create MinIOAttachmentResolver
func NewMinIOAttachmentResolver(store ObjectStore, bucket string, expiry time.Duration) *MinIOAttachmentResolver {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinIOAttachmentResolver{store: store, bucket: bucket, expiry: expiry}
}

// Resolve stat the object at att.Locator and fill Size, MediaType and a presigned URL
func (r *MinIOAttachmentResolver) Resolve(ctx context.Context, att *domain.Attachment) error {
	info, err := r.store.StatObject(ctx, r.bucket, att.Locator, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return errprocess.Newf(errprocess.BadRequest, "attachment %s not uploaded", att.Locator)
		}
		return errprocess.Wrap(errprocess.Transient, err)
	}
	att.Size = info.Size
	if info.ContentType != "" {
		att.MediaType = info.ContentType
	}

	params := make(url.Values)
	params.Set("response-content-disposition", "attachment; filename=\""+att.Filename+"\"")
	u, err := r.store.PresignedGetObject(ctx, r.bucket, att.Locator, r.expiry, params)
	if err != nil {
		return errprocess.Wrap(errprocess.Transient, err)
	}
	att.URL = u.String()
	return nil
}

// PassthroughResolver trust client metadata; Locator doubles as the URL
type PassthroughResolver struct{}

// Resolve fill URL from Locator
func (PassthroughResolver) Resolve(_ context.Context, att *domain.Attachment) error {
	if att.URL == "" {
		att.URL = att.Locator
	}
	return nil
}
