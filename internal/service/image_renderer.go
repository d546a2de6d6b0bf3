package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

// ErrStopped is returned by Render when the progress callback asks to stop.
var ErrStopped = errors.New("render stopped")

// ProgressFunc reports a step. Returning false stops the render.
type ProgressFunc func(progress int, step string) bool

// Uploader turns inline data into a durable URL.
type Uploader interface {
	UploadBase64(ctx context.Context, data, mimeType string) (string, error)
}

// ImageRenderer runs one prompt through the image provider and returns a
// durable URL. Both the queue worker and the direct path use it.
type ImageRenderer struct {
	images       client.ImageGenerator
	blob         Uploader
	pollInterval time.Duration
	maxWait      time.Duration
	mockDelay    time.Duration
}

func NewImageRenderer(images client.ImageGenerator, blob Uploader, pollInterval, maxWait time.Duration) *ImageRenderer {
	return &ImageRenderer{
		images:       images,
		blob:         blob,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		mockDelay:    time.Second,
	}
}

// Render generates an image for prompt.
func (r *ImageRenderer) Render(ctx context.Context, jobType model.JobType, prompt string, cfg model.GenerationConfig, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(int, string) bool { return true }
	}
	if r.images == nil || !r.images.IsConfigured() {
		return r.renderMock(ctx, jobType, progress)
	}

	if !progress(10, "Submitting prompt...") {
		return "", ErrStopped
	}
	resp, err := r.images.GenerateImage(ctx, &client.GenerateImageRequest{
		Prompt:            prompt,
		Model:             cfg.Model,
		AspectRatio:       cfg.AspectRatio,
		ReferenceImages:   cfg.ReferenceImages,
		CompositionAssets: cfg.CompositionAssets,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}

	if !progress(30, "Generating image...") {
		return "", ErrStopped
	}
	result, err := r.images.PollImageStatus(ctx, resp.TaskID, r.pollInterval, r.maxWait)
	if err != nil {
		return "", err
	}

	if !progress(85, "Storing image...") {
		return "", ErrStopped
	}
	if result.ImageBase64 != "" {
		mimeType := result.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		url, err := r.blob.UploadBase64(ctx, result.ImageBase64, mimeType)
		if err != nil {
			return "", err
		}
		return url, nil
	}
	if mimeType, data, ok := model.SplitDataURI(result.ImageURL); ok {
		return r.blob.UploadBase64(ctx, data, mimeType)
	}
	if result.ImageURL == "" {
		return "", fmt.Errorf("image provider returned no image")
	}
	return result.ImageURL, nil
}

// renderMock walks the progress steps with mock data for development
func (r *ImageRenderer) renderMock(ctx context.Context, jobType model.JobType, progress ProgressFunc) (string, error) {
	steps := []struct {
		progress int
		step     string
	}{
		{10, "Composing prompt..."},
		{40, "Generating image..."},
		{75, "Upscaling..."},
		{95, "Finalizing..."},
	}

	for _, s := range steps {
		if !progress(s.progress, s.step) {
			return "", ErrStopped
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.mockDelay):
		}
	}

	ext := "png"
	if model.MediaTypeFor(jobType) == model.MediaTypeVideo {
		ext = "mp4"
	}
	return fmt.Sprintf("https://cdn.studio.local/mock/%s/%d.%s", jobType, time.Now().UnixNano(), ext), nil
}
