package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

// InstagramClient publishes media through the Instagram Graph API content
// publishing flow: create container, wait for FINISHED, media_publish.
type InstagramClient struct {
	httpClient  *http.Client
	graphURL    string
	accessToken string
	accountID   string
	log         zerolog.Logger
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// NewInstagramClient creates a new Graph API client
func NewInstagramClient(cfg *config.InstagramConfig, log zerolog.Logger) *InstagramClient {
	return &InstagramClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		graphURL:    strings.TrimRight(cfg.GraphURL, "/"),
		accessToken: cfg.AccessToken,
		accountID:   cfg.AccountID,
		log:         log.With().Str("component", "instagram_client").Logger(),
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *InstagramClient) IsConfigured() bool {
	return c.accessToken != "" && c.accountID != ""
}

// UploadMedia creates the media container for req and returns its id.
// Carousel slides become child containers created in list order.
func (c *InstagramClient) UploadMedia(ctx context.Context, req model.MediaRequest) (string, error) {
	if len(req.URLs) == 0 {
		return "", model.ErrNoMedia
	}
	if !c.IsConfigured() {
		return "mock-container-" + uuid.New().String(), nil
	}

	if req.ContentType == model.InstagramCarousel {
		children := make([]string, 0, len(req.URLs))
		for _, u := range req.URLs {
			params := url.Values{"is_carousel_item": {"true"}}
			setMedia(params, u, "VIDEO")
			id, err := c.createContainer(ctx, params)
			if err != nil {
				return "", fmt.Errorf("carousel item %d: %w", len(children)+1, err)
			}
			children = append(children, id)
		}
		return c.createContainer(ctx, url.Values{
			"media_type": {"CAROUSEL"},
			"children":   {strings.Join(children, ",")},
			"caption":    {req.Caption},
		})
	}

	params := url.Values{}
	switch req.ContentType {
	case model.InstagramVideo, model.InstagramReel:
		params.Set("media_type", "REELS")
		params.Set("video_url", req.URLs[0])
	case model.InstagramStory:
		params.Set("media_type", "STORIES")
		setMedia(params, req.URLs[0], "")
	default:
		params.Set("image_url", req.URLs[0])
	}
	if req.ContentType != model.InstagramStory {
		params.Set("caption", req.Caption)
	}
	return c.createContainer(ctx, params)
}

// CheckStatus maps the container status_code onto ready, pending or error.
func (c *InstagramClient) CheckStatus(ctx context.Context, containerID string) (model.ContainerStatus, error) {
	if !c.IsConfigured() {
		return model.ContainerReady, nil
	}

	var result struct {
		StatusCode string `json:"status_code"`
		Status     string `json:"status"`
	}
	q := url.Values{"fields": {"status_code,status"}}
	if err := c.do(ctx, http.MethodGet, "/"+containerID, q, &result); err != nil {
		return "", err
	}

	switch result.StatusCode {
	case "FINISHED", "PUBLISHED":
		return model.ContainerReady, nil
	case "ERROR", "EXPIRED":
		c.log.Warn().Str("container_id", containerID).Str("status", result.Status).Msg("container failed")
		return model.ContainerError, nil
	default:
		return model.ContainerPending, nil
	}
}

// Publish publishes a ready container and returns the media id.
func (c *InstagramClient) Publish(ctx context.Context, containerID string) (string, error) {
	if !c.IsConfigured() {
		return "mock-media-" + uuid.New().String(), nil
	}

	var result struct {
		ID string `json:"id"`
	}
	params := url.Values{"creation_id": {containerID}}
	if err := c.do(ctx, http.MethodPost, "/"+c.accountID+"/media_publish", params, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (c *InstagramClient) createContainer(ctx context.Context, params url.Values) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/"+c.accountID+"/media", params, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("graph API returned no container id")
	}
	return result.ID, nil
}

func (c *InstagramClient) do(ctx context.Context, method, endpoint string, params url.Values, result interface{}) error {
	params.Set("access_token", c.accessToken)

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.graphURL+endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.graphURL+endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("method", method).Str("endpoint", endpoint).Msg("graph API")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gerr graphError
		if json.Unmarshal(body, &gerr) == nil && gerr.Error.Message != "" {
			return fmt.Errorf("graph API error (status %d, code %d): %s", resp.StatusCode, gerr.Error.Code, gerr.Error.Message)
		}
		return fmt.Errorf("graph API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// setMedia sets image_url or video_url depending on the file extension.
func setMedia(params url.Values, mediaURL, videoType string) {
	if isVideoURL(mediaURL) {
		if videoType != "" {
			params.Set("media_type", videoType)
		}
		params.Set("video_url", mediaURL)
		return
	}
	params.Set("image_url", mediaURL)
}

func isVideoURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".mp4", ".mov", ".m4v":
		return true
	}
	return false
}
