package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"estimate_backend/platform/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore implements PhotoStore on a single MinIO bucket.
type MinIOStore struct {
	client      *minio.Client
	bucket      string
	maxFileSize int64
}

// NewMinIOStore connects to the configured endpoint. It does not touch the network.
func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOStore{
		client:      client,
		bucket:      cfg.GetMinIOBucketLeadPhotos(),
		maxFileSize: cfg.GetMinIOMaxFileSize(),
	}, nil
}

// EnsureBucket creates the photo bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinIOStore) PutPhoto(ctx context.Context, leadID, fileName, contentType string, data []byte) (string, error) {
	if err := ValidatePhoto(contentType, int64(len(data)), s.maxFileSize); err != nil {
		return "", err
	}

	fileKey := objectKey(leadID, fileName)
	_, err := s.client.PutObject(ctx, s.bucket, fileKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", fileKey, err)
	}
	return fileKey, nil
}

func (s *MinIOStore) PhotoURL(ctx context.Context, fileKey string) (*PresignedURL, error) {
	expiresAt := time.Now().Add(PresignedURLTTL)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, fileKey, PresignedURLTTL, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return &PresignedURL{URL: u.String(), FileKey: fileKey, ExpiresAt: expiresAt}, nil
}

// objectKey places the file under leads/<id>/ with a short uuid suffix so
// repeated names never overwrite each other.
func objectKey(leadID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "photo"
	}
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return path.Join("leads", leadID, fmt.Sprintf("%s_%s%s", name, uuid.New().String()[:8], ext))
}
