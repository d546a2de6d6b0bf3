package model

import (
	"fmt"
	"strings"
	"time"
)

// ScheduledPost is a unit of scheduled or immediate publication.
// ScheduledTimestamp is epoch milliseconds, always derived from
// ScheduledDate + ScheduledTime + Timezone.
type ScheduledPost struct {
	ID                   string               `json:"id"`
	OwnerID              string               `json:"ownerId"`
	ContentID            string               `json:"contentId"`
	ImageURL             string               `json:"imageUrl"`
	CarouselImageURLs    []string             `json:"carouselImageUrls,omitempty"`
	Caption              string               `json:"caption"`
	Hashtags             []string             `json:"hashtags"`
	ScheduledDate        string               `json:"scheduledDate"`
	ScheduledTime        string               `json:"scheduledTime"`
	Timezone             string               `json:"timezone"`
	ScheduledTimestamp   int64                `json:"scheduledTimestamp"`
	Platforms            Platform             `json:"platforms"`
	Status               PostStatus           `json:"status"`
	InstagramContentType InstagramContentType `json:"instagramContentType"`
	PublishAttempts      int                  `json:"publishAttempts"`
	LastPublishAttempt   *time.Time           `json:"lastPublishAttempt,omitempty"`
	PublishedAt          *time.Time           `json:"publishedAt,omitempty"`
	PlatformPostID       string               `json:"platformPostId,omitempty"`
	ErrorMessage         string               `json:"errorMessage,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// ScheduledAt returns the scheduled instant.
func (p *ScheduledPost) ScheduledAt() time.Time {
	return time.UnixMilli(p.ScheduledTimestamp)
}

// MediaURLs returns the ordered media list to publish: the carousel slides
// for carousel posts, otherwise the single image.
func (p *ScheduledPost) MediaURLs() []string {
	if p.InstagramContentType == InstagramCarousel && len(p.CarouselImageURLs) > 0 {
		out := make([]string, len(p.CarouselImageURLs))
		copy(out, p.CarouselImageURLs)
		return out
	}
	if p.ImageURL == "" {
		return nil
	}
	return []string{p.ImageURL}
}

// FullCaption joins the caption with the hashtags the way they are posted.
func (p *ScheduledPost) FullCaption() string {
	if len(p.Hashtags) == 0 {
		return p.Caption
	}
	tags := make([]string, 0, len(p.Hashtags))
	for _, h := range p.Hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	if len(tags) == 0 {
		return p.Caption
	}
	if p.Caption == "" {
		return strings.Join(tags, " ")
	}
	return p.Caption + "\n\n" + strings.Join(tags, " ")
}

// Clone returns a deep copy.
func (p *ScheduledPost) Clone() *ScheduledPost {
	c := *p
	c.CarouselImageURLs = append([]string(nil), p.CarouselImageURLs...)
	c.Hashtags = append([]string(nil), p.Hashtags...)
	if p.LastPublishAttempt != nil {
		t := *p.LastPublishAttempt
		c.LastPublishAttempt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

var clockLayouts = []string{"15:04", "15:04:05"}

// ComputeScheduledTimestamp deterministically converts a wall-clock date, time
// and IANA timezone into epoch milliseconds.
func ComputeScheduledTimestamp(date, clock, timezone string) (int64, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, timezone)
	}
	for _, layout := range clockLayouts {
		t, err := time.ParseInLocation("2006-01-02 "+layout, date+" "+clock, loc)
		if err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot parse %q %q", ErrInvalidSchedule, date, clock)
}

// InstagramPublishState tracks one post through a single publish attempt.
// It is transient and never persisted.
type InstagramPublishState struct {
	Step           PublishStep `json:"step"`
	Message        string      `json:"message"`
	Progress       int         `json:"progress"`
	PlatformPostID string      `json:"platformPostId,omitempty"`
}

// MediaRequest is what the platform adapter receives to build a container.
// URLs are in publish order; for carousels that is the slide order.
type MediaRequest struct {
	URLs        []string             `json:"urls"`
	Caption     string               `json:"caption"`
	ContentType InstagramContentType `json:"contentType"`
}
