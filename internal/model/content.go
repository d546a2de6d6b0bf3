package model

import "time"

// ContentItem is the generic view over posts, ad creatives and clips.
// A non-empty ImageURL is the authoritative persisted reference.
type ContentItem struct {
	ID          string      `json:"id,omitempty"`
	OwnerID     string      `json:"-"`
	Kind        ContentKind `json:"kind"`
	CampaignID  string      `json:"campaignId,omitempty"`
	Platform    string      `json:"platform"`
	Position    int         `json:"position"`
	ImagePrompt string      `json:"imagePrompt"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
