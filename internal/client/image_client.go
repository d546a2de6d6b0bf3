package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

// ImageGenerator defines the interface for image generation operations
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *GenerateImageRequest) (*GenerateImageResponse, error)
	GetImageStatus(ctx context.Context, taskID string) (*ImageResult, error)
	PollImageStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*ImageResult, error)
	IsConfigured() bool
}

// ImageClient implements ImageGenerator for the image provider HTTP API
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	log        zerolog.Logger
}

// GenerateImageRequest represents the request for image generation
type GenerateImageRequest struct {
	Prompt            string                 `json:"prompt"`
	Model             string                 `json:"model,omitempty"`
	AspectRatio       string                 `json:"aspect_ratio,omitempty"`
	ReferenceImages   []model.ReferenceImage `json:"reference_images,omitempty"`
	CompositionAssets []string               `json:"composition_assets,omitempty"`
}

// GenerateImageResponse represents the response from image generation
type GenerateImageResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// ImageResult is the provider's view of one generation task. Either ImageURL
// or ImageBase64 is set on success.
type ImageResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewImageClient creates a new image provider client
func NewImageClient(cfg *config.ImageGenConfig, log zerolog.Logger) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		log:     log.With().Str("component", "image_client").Logger(),
	}
}

// GenerateImage starts a generation task
func (c *ImageClient) GenerateImage(ctx context.Context, req *GenerateImageRequest) (*GenerateImageResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	var result GenerateImageResponse
	if err := c.post(ctx, "/v1/images/generate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetImageStatus retrieves the status of a generation task
func (c *ImageClient) GetImageStatus(ctx context.Context, taskID string) (*ImageResult, error) {
	var result ImageResult
	if err := c.get(ctx, fmt.Sprintf("/v1/images/status/%s", taskID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollImageStatus polls until the task succeeds, fails or maxWait elapses
func (c *ImageClient) PollImageStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*ImageResult, error) {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		result, err := c.GetImageStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}

		c.log.Debug().Int("attempt", attempt).Str("task_id", taskID).Str("status", result.Status).Msg("poll image")

		switch result.Status {
		case "completed", "success":
			return result, nil
		case "failed", "error":
			if result.Error != "" {
				return nil, fmt.Errorf("image generation failed: %s", result.Error)
			}
			return nil, fmt.Errorf("image generation failed: %s", result.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("image generation timed out after %v", maxWait)
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *ImageClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *ImageClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *ImageClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("url", req.URL.String()).Msg("image API")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("image API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
