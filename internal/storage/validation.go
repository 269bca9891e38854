package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrContentType = errors.New("content type is not allowed")
	ErrFileSize    = errors.New("file size is out of range")
)

// AllowedContentTypes lists the photo formats accepted from the details form.
var AllowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// NormalizeContentType strips parameters and lowercases the media type.
func NormalizeContentType(contentType string) string {
	normalized := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(normalized))
}

// ValidatePhoto checks the type and size of an upload. maxSize <= 0 disables the size cap.
func ValidatePhoto(contentType string, size, maxSize int64) error {
	if !AllowedContentTypes[NormalizeContentType(contentType)] {
		return fmt.Errorf("%w: %q", ErrContentType, contentType)
	}
	if size <= 0 {
		return fmt.Errorf("%w: empty file", ErrFileSize)
	}
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileSize, size, maxSize)
	}
	return nil
}
