// Package storage keeps lead photos in S3-compatible object storage.
package storage

import (
	"context"
	"time"
)

// PresignedURLTTL bounds how long admin photo links stay valid.
const PresignedURLTTL = 15 * time.Minute

// PhotoStore persists uploaded photos under a per-lead folder.
type PhotoStore interface {
	PutPhoto(ctx context.Context, leadID, fileName, contentType string, data []byte) (string, error)
	PhotoURL(ctx context.Context, fileKey string) (*PresignedURL, error)
}

// PresignedURL is a time-limited download link.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}
