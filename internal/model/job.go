package model

import "time"

// GenerationJob represents one outstanding or completed asset-generation request.
type GenerationJob struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"ownerId"`
	JobType      JobType    `json:"jobType"`
	Context      string     `json:"context"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	ResultURL    string     `json:"resultUrl,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// GenerationConfig is passed through to the generation backend untouched.
type GenerationConfig struct {
	AspectRatio       string           `json:"aspectRatio,omitempty"`
	Model             string           `json:"model,omitempty"`
	ReferenceImages   []ReferenceImage `json:"referenceImages,omitempty"`
	CompositionAssets []string         `json:"compositionAssets,omitempty"`
}

// ReferenceImage is an inline base64 image handed to the provider.
type ReferenceImage struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// Provenance describes which content item and campaign a job result belongs to.
// The tracker stamps it onto the asset it creates without interpreting it.
type Provenance struct {
	OwnerID    string      `json:"ownerId,omitempty"`
	Kind       ContentKind `json:"kind,omitempty"`
	ItemID     string      `json:"itemId,omitempty"`
	CampaignID string      `json:"campaignId,omitempty"`
	Source     string      `json:"source,omitempty"`
}

// SubmitRequest is the input to the job tracker's submit operation.
type SubmitRequest struct {
	OwnerID    string
	JobType    JobType
	Prompt     string
	Config     GenerationConfig
	Context    string
	Provenance Provenance
}

// JobUpdate is one observation of a job's state from the backend, whether
// obtained by polling or from the event stream.
type JobUpdate struct {
	JobID        string    `json:"jobId"`
	OwnerID      string    `json:"ownerId,omitempty"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	ResultURL    string    `json:"resultUrl,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
}

// Clone returns a copy safe to hand across goroutines.
func (j *GenerationJob) Clone() *GenerationJob {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// QueueRecord is the job record kept by the generation queue backend.
type QueueRecord struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"ownerId"`
	JobType     JobType          `json:"jobType"`
	Prompt      string           `json:"prompt"`
	Config      GenerationConfig `json:"config"`
	Status      JobStatus        `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"currentStep,omitempty"`
	ResultURL   string           `json:"resultUrl,omitempty"`
	Error       *string          `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Update converts the record into a tracker observation.
func (r *QueueRecord) Update() JobUpdate {
	u := JobUpdate{
		JobID:     r.ID,
		OwnerID:   r.OwnerID,
		Status:    r.Status,
		Progress:  r.Progress,
		ResultURL: r.ResultURL,
	}
	if r.Error != nil {
		u.ErrorMessage = *r.Error
	}
	return u
}
