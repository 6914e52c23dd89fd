// Package storage wraps S3-compatible object storage. The lifecycle uses it to
// archive call transcripts next to the call attempt record.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignedURL contains the URL and metadata for a presigned download.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ObjectStore is the subset of object storage the application relies on.
type ObjectStore interface {
	EnsureBucketExists(ctx context.Context, bucket string) error

	// PutObject stores reader under an exact key.
	PutObject(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error

	GenerateDownloadURL(ctx context.Context, bucket, fileKey string) (*PresignedURL, error)

	// DownloadFile downloads a file directly from storage.
	// The caller is responsible for closing the returned io.ReadCloser.
	DownloadFile(ctx context.Context, bucket, fileKey string) (io.ReadCloser, error)
}
