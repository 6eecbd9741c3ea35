package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sekolah_absenku/config"

	"github.com/google/uuid"
)

// Store persists generated reports and uploaded attachments.
type Store interface {
	// Put stores data under key and returns a public URL for it.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyFor maps a URL returned by Put back to its key, or "" when the
	// URL does not belong to this store.
	KeyFor(url string) string
}

// New returns an S3 store when a bucket and region are configured, otherwise
// a local directory store.
func New(cfg *config.Config) (Store, error) {
	if cfg.S3BucketName != "" && cfg.AWSRegion != "" {
		s3Store, err := NewS3Store(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.S3BucketName)
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	}
	local, err := NewLocalStore(cfg.ExportDir, strings.TrimRight(cfg.PublicBaseURL, "/")+"/exports")
	if err != nil {
		return nil, err
	}
	return local, nil
}

// NewKey builds folder/YYYY/MM/DD/<uuid>.<ext>.
func NewKey(folder, ext string, now time.Time) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return fmt.Sprintf("%s/%d/%02d/%02d/%s.%s",
		strings.Trim(folder, "/"),
		now.Year(),
		now.Month(),
		now.Day(),
		uuid.New().String(),
		ext,
	)
}

// ContentType returns the MIME type for a file extension.
func ContentType(extension string) string {
	switch strings.TrimPrefix(strings.ToLower(extension), ".") {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Extension extracts the lowercase extension of a file name without the dot.
func Extension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 1 {
		return strings.ToLower(ext[1:])
	}
	return ""
}
