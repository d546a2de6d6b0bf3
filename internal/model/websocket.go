package model

import "time"

// WebSocket message types
const (
	WSMessageTypePing = "ping"
	WSMessageTypePong = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// Notification types
type NotificationType string

const (
	NotifyJobProgress   NotificationType = "job_progress"
	NotifyJobCompleted  NotificationType = "job_completed"
	NotifyJobFailed     NotificationType = "job_failed"
	NotifyJobCancelled  NotificationType = "job_cancelled"
	NotifyPostDue       NotificationType = "post_due"
	NotifyPostProgress  NotificationType = "post_progress"
	NotifyPostPublished NotificationType = "post_published"
	NotifyPostFailed    NotificationType = "post_failed"
)

// Notification is a UI-facing event. Core logic only emits these; it never
// reads them back.
type Notification struct {
	Type     NotificationType `json:"type"`
	OwnerID  string           `json:"ownerId"`
	JobID    string           `json:"jobId,omitempty"`
	PostID   string           `json:"postId,omitempty"`
	Context  string           `json:"context,omitempty"`
	Step     PublishStep      `json:"step,omitempty"`
	Progress int              `json:"progress,omitempty"`
	Message  string           `json:"message,omitempty"`
	Overdue  bool             `json:"overdue,omitempty"`
	Asset    *Asset           `json:"asset,omitempty"`
	At       time.Time        `json:"at"`
}
