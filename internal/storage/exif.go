package storage

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// CaptureTime reads the EXIF capture timestamp. Photos without usable EXIF
// data return nil.
func CaptureTime(data []byte) *time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	taken, err := x.DateTime()
	if err != nil || taken.IsZero() {
		return nil
	}
	taken = taken.UTC()
	return &taken
}
