package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
)

const transcriptContentType = "text/plain; charset=utf-8"

// TranscriptArchive writes call transcripts to a single bucket, keyed by lead and call.
type TranscriptArchive struct {
	store  ObjectStore
	bucket string
}

func NewTranscriptArchive(store ObjectStore, bucket string) *TranscriptArchive {
	return &TranscriptArchive{store: store, bucket: bucket}
}

// TranscriptKey is leads/{leadID}/calls/{callID}.txt. Redelivered webhooks
// overwrite the same object.
func TranscriptKey(leadID, callID uuid.UUID) string {
	return path.Join("leads", leadID.String(), "calls", callID.String()+".txt")
}

func (a *TranscriptArchive) Bucket() string { return a.bucket }

// Archive stores transcript and returns its object key.
func (a *TranscriptArchive) Archive(ctx context.Context, leadID, callID uuid.UUID, transcript string) (string, error) {
	key := TranscriptKey(leadID, callID)
	body := []byte(transcript)
	if err := a.store.PutObject(ctx, a.bucket, key, transcriptContentType, bytes.NewReader(body), int64(len(body))); err != nil {
		return "", fmt.Errorf("archive transcript: %w", err)
	}
	return key, nil
}

// DownloadURL returns a presigned link to a previously archived transcript.
func (a *TranscriptArchive) DownloadURL(ctx context.Context, leadID, callID uuid.UUID) (*PresignedURL, error) {
	return a.store.GenerateDownloadURL(ctx, a.bucket, TranscriptKey(leadID, callID))
}
