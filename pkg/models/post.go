package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Post is a child of exactly one Profile. Per-stage fields are each written by
// exactly one analysis stage; re-running a stage overwrites its prior output.
// AnalyzedAt is set only once the mandatory per-stage subset (category,
// sentiment, language) is present, so a post can never carry a non-nil
// AnalyzedAt while half analyzed.
type Post struct {
	ID         uuid.UUID `json:"id"`
	ProfileID  uuid.UUID `json:"profile_id"`
	ExternalID string    `json:"external_id"`
	Caption    string    `json:"caption"`

	LikeCount    int `json:"like_count"`
	CommentCount int `json:"comment_count"`
	ViewCount    int `json:"view_count"`

	Category           *string  `json:"category,omitempty"`
	CategoryConfidence *float64 `json:"category_confidence,omitempty"`
	Sentiment          *string  `json:"sentiment,omitempty"`
	SentimentScore     *float64 `json:"sentiment_score,omitempty"`
	LanguageCode       *string  `json:"language_code,omitempty"`

	RawAnalysis json.RawMessage `json:"raw_analysis,omitempty"`

	CDNThumbnailURL *string `json:"cdn_thumbnail_url,omitempty"`
	ThumbnailURL    string  `json:"thumbnail_url"`

	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
	PostedAt   time.Time  `json:"posted_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasMandatoryAnalysis reports whether the mandatory per-post stage fields are
// all present. AnalyzedAt must never be set while this is false.
func (p *Post) HasMandatoryAnalysis() bool {
	return p.Category != nil && p.Sentiment != nil && p.LanguageCode != nil
}

// PostStats summarizes per-post stage coverage for one profile, as counted
// directly from the store.
type PostStats struct {
	Total         int `json:"total"`
	Analyzed      int `json:"analyzed"`
	WithThumbnail int `json:"with_thumbnail"`
}
