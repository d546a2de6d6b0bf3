package model

// SubmitGenerationRequest is the body of POST /api/generation/jobs.
type SubmitGenerationRequest struct {
	JobType    JobType          `json:"jobType" validate:"required,oneof=flyer post ad clip video"`
	Prompt     string           `json:"prompt" validate:"required,max=4000"`
	Config     GenerationConfig `json:"config"`
	Kind       ContentKind      `json:"kind" validate:"omitempty,oneof=post ad clip"`
	ItemID     string           `json:"itemId" validate:"omitempty,max=128"`
	Position   int              `json:"position" validate:"gte=0"`
	Platform   string           `json:"platform" validate:"omitempty,max=32"`
	CampaignID string           `json:"campaignId" validate:"omitempty,max=128"`
	Fallback   bool             `json:"fallback"`
}

// SubmitGenerationResponse reports a queued job, or the asset when the
// direct path produced it synchronously.
type SubmitGenerationResponse struct {
	JobID   string `json:"jobId,omitempty"`
	Context string `json:"context,omitempty"`
	Direct  bool   `json:"direct"`
	Asset   *Asset `json:"asset,omitempty"`
}

// ResolveContentRequest is the body of POST /api/content/:kind/resolve.
// When Items is empty the campaign's stored items are used.
type ResolveContentRequest struct {
	CampaignID string        `json:"campaignId" validate:"required,max=128"`
	Items      []ContentItem `json:"items" validate:"omitempty,dive"`
}

// CreateScheduledPostRequest is the body of POST /api/schedule.
type CreateScheduledPostRequest struct {
	ContentID            string               `json:"contentId" validate:"omitempty,max=128"`
	ImageURL             string               `json:"imageUrl"`
	CarouselImageURLs    []string             `json:"carouselImageUrls" validate:"omitempty,max=10"`
	Caption              string               `json:"caption" validate:"max=2200"`
	Hashtags             []string             `json:"hashtags" validate:"omitempty,max=30"`
	ScheduledDate        string               `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	ScheduledTime        string               `json:"scheduledTime" validate:"required"`
	Timezone             string               `json:"timezone" validate:"omitempty,timezone"`
	Platforms            Platform             `json:"platforms" validate:"required,oneof=instagram facebook both"`
	InstagramContentType InstagramContentType `json:"instagramContentType" validate:"omitempty,oneof=photo video reel story carousel"`
}

// EditScheduledPostRequest is the body of PATCH /api/schedule/:id.
type EditScheduledPostRequest struct {
	Caption              *string               `json:"caption" validate:"omitempty,max=2200"`
	Hashtags             []string              `json:"hashtags" validate:"omitempty,max=30"`
	ImageURL             *string               `json:"imageUrl"`
	CarouselImageURLs    []string              `json:"carouselImageUrls" validate:"omitempty,max=10"`
	InstagramContentType *InstagramContentType `json:"instagramContentType" validate:"omitempty,oneof=photo video reel story carousel"`
}

// RescheduleRequest is the body of PUT /api/schedule/:id/time.
type RescheduleRequest struct {
	ScheduledDate string `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	ScheduledTime string `json:"scheduledTime" validate:"required"`
	Timezone      string `json:"timezone" validate:"omitempty,timezone"`
}

// BulkPublishRequest is the body of POST /api/schedule/publish. No ids means
// every due post.
type BulkPublishRequest struct {
	PostIDs []string `json:"postIds" validate:"omitempty,max=50"`
}
