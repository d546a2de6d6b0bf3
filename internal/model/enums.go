package model

// Job types
type JobType string

const (
	JobTypeFlyer JobType = "flyer"
	JobTypePost  JobType = "post"
	JobTypeAd    JobType = "ad"
	JobTypeClip  JobType = "clip"
	JobTypeVideo JobType = "video"
)

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// rank orders statuses along queued -> processing -> terminal.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job may move from s to next.
// Staying in the same non-terminal status is allowed so progress updates apply.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// Content kinds
type ContentKind string

const (
	ContentKindPost ContentKind = "post"
	ContentKindAd   ContentKind = "ad"
	ContentKindClip ContentKind = "clip"
)

var ValidContentKinds = []ContentKind{ContentKindPost, ContentKindAd, ContentKindClip}

// ParseContentKind accepts the kind names used in routes and slot contexts.
func ParseContentKind(s string) (ContentKind, bool) {
	for _, k := range ValidContentKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Asset media types
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// Platforms a scheduled post targets.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformBoth      Platform = "both"
)

// IncludesInstagram reports whether the Instagram publish pipeline applies.
func (p Platform) IncludesInstagram() bool {
	return p == PlatformInstagram || p == PlatformBoth
}

// Scheduled post status
type PostStatus string

const (
	PostStatusScheduled  PostStatus = "scheduled"
	PostStatusPublishing PostStatus = "publishing"
	PostStatusPublished  PostStatus = "published"
	PostStatusFailed     PostStatus = "failed"
	PostStatusCancelled  PostStatus = "cancelled"
)

// Instagram content types
type InstagramContentType string

const (
	InstagramPhoto    InstagramContentType = "photo"
	InstagramVideo    InstagramContentType = "video"
	InstagramReel     InstagramContentType = "reel"
	InstagramStory    InstagramContentType = "story"
	InstagramCarousel InstagramContentType = "carousel"
)

// Publish steps
type PublishStep string

const (
	StepIdle              PublishStep = "idle"
	StepUploadingImage    PublishStep = "uploading_image"
	StepCreatingContainer PublishStep = "creating_container"
	StepCheckingStatus    PublishStep = "checking_status"
	StepPublishing        PublishStep = "publishing"
	StepCompleted         PublishStep = "completed"
	StepFailed            PublishStep = "failed"
)

// Container status as reported by the platform.
type ContainerStatus string

const (
	ContainerReady   ContainerStatus = "ready"
	ContainerPending ContainerStatus = "pending"
	ContainerError   ContainerStatus = "error"
)
