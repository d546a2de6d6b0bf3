package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/makeasinger/studio/internal/client"
)

var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
}

// BlobService turns transient media into durable URLs in R2 storage
type BlobService struct {
	storage client.StorageClient
	now     func() time.Time
}

// NewBlobService creates a blob service. A nil storage client switches to mock URLs.
func NewBlobService(storage client.StorageClient) *BlobService {
	return &BlobService{storage: storage, now: time.Now}
}

// UploadBase64 decodes a base64 payload and stores it, returning its public URL
func (s *BlobService) UploadBase64(ctx context.Context, data, mimeType string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return s.Upload(ctx, bytes.NewReader(raw), mimeType)
}

// Upload stores body under a generated key
func (s *BlobService) Upload(ctx context.Context, body io.Reader, mimeType string) (string, error) {
	key := s.key(mimeType)

	// Use mock URL if storage is not configured
	if s.storage == nil {
		return fmt.Sprintf("https://cdn.studio.local/%s", key), nil
	}

	url, err := s.storage.Upload(ctx, key, body, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}
	return url, nil
}

func (s *BlobService) key(mimeType string) string {
	ext, ok := mimeExtensions[strings.ToLower(mimeType)]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("assets/%s/%s%s", s.now().UTC().Format("2006/01/02"), uuid.New().String(), ext)
}
