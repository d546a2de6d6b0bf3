package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	key         string
	body        string
	contentType string
	err         error
}

func (f *fakeStorage) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, _ := io.ReadAll(body)
	f.key, f.body, f.contentType = key, string(b), contentType
	return "https://media.example.com/" + key, nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "https://media.example.com/" + key
}

func TestBlobService_UploadBase64(t *testing.T) {
	storage := &fakeStorage{}
	svc := NewBlobService(storage)
	svc.now = func() time.Time { return time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC) }

	url, err := svc.UploadBase64(context.Background(), "aGVsbG8=", "image/png")
	require.NoError(t, err)

	assert.Equal(t, "hello", storage.body)
	assert.Equal(t, "image/png", storage.contentType)
	assert.True(t, strings.HasPrefix(storage.key, "assets/2026/02/03/"))
	assert.True(t, strings.HasSuffix(storage.key, ".png"))
	assert.Equal(t, "https://media.example.com/"+storage.key, url)
}

func TestBlobService_InvalidBase64(t *testing.T) {
	svc := NewBlobService(&fakeStorage{})
	_, err := svc.UploadBase64(context.Background(), "not base64!!", "image/png")
	assert.Error(t, err)
}

func TestBlobService_StorageError(t *testing.T) {
	svc := NewBlobService(&fakeStorage{err: errors.New("denied")})
	_, err := svc.UploadBase64(context.Background(), "aGVsbG8=", "image/jpeg")
	assert.ErrorContains(t, err, "denied")
}

func TestBlobService_MockWithoutStorage(t *testing.T) {
	svc := NewBlobService(nil)
	url, err := svc.UploadBase64(context.Background(), "aGVsbG8=", "application/octet-stream")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.studio.local/assets/"))
	assert.True(t, strings.HasSuffix(url, ".bin"))
}
