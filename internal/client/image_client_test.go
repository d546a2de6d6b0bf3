package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/config"
)

func TestImageClient_GenerateAndPoll(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/images/generate":
			var req GenerateImageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "a red bicycle", req.Prompt)
			assert.Equal(t, "flux", req.Model)
			assert.Equal(t, "4:5", req.AspectRatio)
			_ = json.NewEncoder(w).Encode(GenerateImageResponse{TaskID: "t1", Status: "queued"})
		case "/v1/images/status/t1":
			status := "processing"
			if polls.Add(1) >= 3 {
				status = "completed"
			}
			_ = json.NewEncoder(w).Encode(ImageResult{ID: "t1", Status: status, ImageURL: "https://img/t1.png"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewImageClient(&config.ImageGenConfig{BaseURL: srv.URL, APIKey: "key", Model: "flux"}, zerolog.Nop())
	require.True(t, c.IsConfigured())

	resp, err := c.GenerateImage(context.Background(), &GenerateImageRequest{Prompt: "a red bicycle", AspectRatio: "4:5"})
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.TaskID)

	res, err := c.PollImageStatus(context.Background(), resp.TaskID, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://img/t1.png", res.ImageURL)
	assert.Equal(t, int32(3), polls.Load())
}

func TestImageClient_PollFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ImageResult{Status: "failed", Error: "nsfw filter"})
	}))
	defer srv.Close()

	c := NewImageClient(&config.ImageGenConfig{BaseURL: srv.URL, APIKey: "key"}, zerolog.Nop())
	_, err := c.PollImageStatus(context.Background(), "t1", time.Millisecond, time.Second)
	assert.ErrorContains(t, err, "nsfw filter")
}

func TestImageClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewImageClient(&config.ImageGenConfig{BaseURL: srv.URL, APIKey: "key"}, zerolog.Nop())
	_, err := c.GenerateImage(context.Background(), &GenerateImageRequest{Prompt: "x"})
	assert.ErrorContains(t, err, "status 429")
}

func TestImageClient_PollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ImageResult{Status: "processing"})
	}))
	defer srv.Close()

	c := NewImageClient(&config.ImageGenConfig{BaseURL: srv.URL, APIKey: "key"}, zerolog.Nop())
	_, err := c.PollImageStatus(context.Background(), "t1", 5*time.Millisecond, 20*time.Millisecond)
	assert.ErrorContains(t, err, "timed out")
}

func TestImageClient_NotConfigured(t *testing.T) {
	c := NewImageClient(&config.ImageGenConfig{}, zerolog.Nop())
	assert.False(t, c.IsConfigured())
}
