package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

type fakeImages struct {
	result  *client.ImageResult
	genErr  error
	pollErr error
	req     *client.GenerateImageRequest
}

func (f *fakeImages) GenerateImage(_ context.Context, req *client.GenerateImageRequest) (*client.GenerateImageResponse, error) {
	f.req = req
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &client.GenerateImageResponse{TaskID: "t1"}, nil
}

func (f *fakeImages) GetImageStatus(context.Context, string) (*client.ImageResult, error) {
	return f.result, nil
}

func (f *fakeImages) PollImageStatus(context.Context, string, time.Duration, time.Duration) (*client.ImageResult, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.result, nil
}

func (f *fakeImages) IsConfigured() bool { return true }

type fakeUpload struct{ calls int }

func (f *fakeUpload) UploadBase64(_ context.Context, data, mimeType string) (string, error) {
	f.calls++
	return "https://r2/" + data, nil
}

type fakeContent struct {
	owner  string
	kind   model.ContentKind
	itemID string
	url    string
	err    error
}

func (f *fakeContent) UpdateItemImage(_ context.Context, owner string, kind model.ContentKind, itemID, url string) error {
	f.owner, f.kind, f.itemID, f.url = owner, kind, itemID, url
	return f.err
}

func TestDirectService_Generate(t *testing.T) {
	images := &fakeImages{result: &client.ImageResult{Status: "completed", ImageBase64: "QUJD", MimeType: "image/png"}}
	upload := &fakeUpload{}
	store := assetstore.New()
	content := &fakeContent{}
	svc := NewDirectService(NewImageRenderer(images, upload, time.Millisecond, time.Second), store, content, zerolog.Nop())

	asset, err := svc.Generate(context.Background(), model.SubmitRequest{
		OwnerID:    "u1",
		JobType:    model.JobTypeAd,
		Prompt:     "shoe on a beach",
		Config:     model.GenerationConfig{Model: "flux", AspectRatio: "1:1"},
		Context:    "ad-0",
		Provenance: model.Provenance{Kind: model.ContentKindAd, ItemID: "ad-7", CampaignID: "c1", Source: "ad-0-facebook-c1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://r2/QUJD", asset.Src)
	assert.Equal(t, "ad-7", asset.AdCreativeID)
	assert.Equal(t, "c1", asset.CampaignID)
	assert.Equal(t, "u1", asset.OwnerID)
	assert.Equal(t, []model.Asset{asset}, store.ByOwner("u1"))
	assert.Empty(t, store.ByOwner("u2"))
	assert.Equal(t, "1:1", images.req.AspectRatio)
	assert.Equal(t, 1, upload.calls)
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, "u1", content.owner)
	assert.Equal(t, model.ContentKindAd, content.kind)
	assert.Equal(t, "ad-7", content.itemID)
	assert.Equal(t, "https://r2/QUJD", content.url)
}

func TestDirectService_WriteBackFailureKeepsAsset(t *testing.T) {
	images := &fakeImages{result: &client.ImageResult{Status: "completed", ImageURL: "https://img/x.png"}}
	store := assetstore.New()
	svc := NewDirectService(NewImageRenderer(images, &fakeUpload{}, time.Millisecond, time.Second), store,
		&fakeContent{err: errors.New("db down")}, zerolog.Nop())

	asset, err := svc.Generate(context.Background(), model.SubmitRequest{
		JobType: model.JobTypePost, Provenance: model.Provenance{Kind: model.ContentKindPost, ItemID: "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img/x.png", asset.Src)
	assert.Equal(t, 1, store.Len())
}

func TestDirectService_ProviderFailure(t *testing.T) {
	images := &fakeImages{pollErr: errors.New("image generation failed: nsfw")}
	store := assetstore.New()
	svc := NewDirectService(NewImageRenderer(images, &fakeUpload{}, time.Millisecond, time.Second), store, nil, zerolog.Nop())

	_, err := svc.Generate(context.Background(), model.SubmitRequest{JobType: model.JobTypePost})
	assert.ErrorContains(t, err, "nsfw")
	assert.Equal(t, 0, store.Len())
}

func TestImageRenderer_StopsWhenProgressRefuses(t *testing.T) {
	images := &fakeImages{result: &client.ImageResult{Status: "completed", ImageURL: "https://img/x.png"}}
	r := NewImageRenderer(images, &fakeUpload{}, time.Millisecond, time.Second)

	calls := 0
	_, err := r.Render(context.Background(), model.JobTypePost, "p", model.GenerationConfig{}, func(int, string) bool {
		calls++
		return calls < 2
	})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestImageRenderer_Mock(t *testing.T) {
	r := NewImageRenderer(nil, &fakeUpload{}, time.Millisecond, time.Second)
	r.mockDelay = time.Millisecond

	var seen []int
	url, err := r.Render(context.Background(), model.JobTypeVideo, "p", model.GenerationConfig{}, func(p int, _ string) bool {
		seen = append(seen, p)
		return true
	})
	require.NoError(t, err)
	assert.Contains(t, url, ".mp4")
	assert.Equal(t, []int{10, 40, 75, 95}, seen)
}
