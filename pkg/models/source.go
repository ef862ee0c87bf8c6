package models

import "time"

// ProfileData is the external content source's view of a creator profile, as
// returned by the fetch client. It carries no analysis output.
type ProfileData struct {
	Handle        string `json:"handle"`
	FullName      string `json:"full_name"`
	Biography     string `json:"biography"`
	FollowerCount int    `json:"follower_count"`
	PostCount     int    `json:"post_count"`
}

// PostData is one post as returned by the external content source.
type PostData struct {
	ExternalID   string    `json:"external_id"`
	Caption      string    `json:"caption"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	ViewCount    int       `json:"view_count"`
	ThumbnailURL string    `json:"thumbnail_url"`
	PostedAt     time.Time `json:"posted_at"`
}
