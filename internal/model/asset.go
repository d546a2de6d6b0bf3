package model

import (
	"strings"
	"time"
)

// Asset is a generated or uploaded media item with provenance.
// Source is a human label and never identity-bearing; the back-references are.
type Asset struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId,omitempty"`
	Src           string    `json:"src"`
	Prompt        string    `json:"prompt"`
	Source        string    `json:"source"`
	Model         string    `json:"model,omitempty"`
	MediaType     MediaType `json:"mediaType"`
	JobID         string    `json:"jobId,omitempty"`
	PostID        string    `json:"postId,omitempty"`
	AdCreativeID  string    `json:"adCreativeId,omitempty"`
	VideoScriptID string    `json:"videoScriptId,omitempty"`
	CampaignID    string    `json:"campaignId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// BackRef returns the strong back-reference matching kind.
func (a Asset) BackRef(kind ContentKind) string {
	switch kind {
	case ContentKindPost:
		return a.PostID
	case ContentKindAd:
		return a.AdCreativeID
	case ContentKindClip:
		return a.VideoScriptID
	}
	return ""
}

// IsDataURI reports whether Src is an inline data URI rather than a durable URL.
func (a Asset) IsDataURI() bool {
	return IsDataURI(a.Src)
}

// IsDataURI reports whether s is a data: URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// SplitDataURI returns the mime type and base64 payload of a data URI.
func SplitDataURI(s string) (mimeType, payload string, ok bool) {
	if !IsDataURI(s) {
		return "", "", false
	}
	header, data, found := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !found {
		return "", "", false
	}
	mimeType, _, _ = strings.Cut(header, ";")
	return mimeType, data, true
}

// NewAsset builds an asset stamped with provenance. Both the job tracker and
// the direct generation path go through here so strong back-references are
// assigned the same way regardless of which path produced the asset.
func NewAsset(id, src, prompt, model string, mediaType MediaType, p Provenance, now time.Time) Asset {
	a := Asset{
		ID:         id,
		OwnerID:    p.OwnerID,
		Src:        src,
		Prompt:     prompt,
		Source:     p.Source,
		Model:      model,
		MediaType:  mediaType,
		CampaignID: p.CampaignID,
		CreatedAt:  now,
	}
	switch p.Kind {
	case ContentKindPost:
		a.PostID = p.ItemID
	case ContentKindAd:
		a.AdCreativeID = p.ItemID
	case ContentKindClip:
		a.VideoScriptID = p.ItemID
	}
	return a
}

// MediaTypeFor maps a job type onto the media it produces.
func MediaTypeFor(t JobType) MediaType {
	if t == JobTypeVideo {
		return MediaTypeVideo
	}
	return MediaTypeImage
}
