// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// ContentType enumerates the kinds of content a post can carry.
type ContentType string

// Supported post content types.
const (
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
	ContentTypeLink  ContentType = "link"
	ContentTypeText  ContentType = "text"
)

// Valid reports whether t is one of the supported content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeImage, ContentTypeVideo, ContentTypeLink, ContentTypeText:
		return true
	}
	return false
}

// Post represents a post in the Kindred feed.
//
// LikeCount always equals len(LikeIDs) once a mutation has been reconciled;
// CommentCount equals the number of live comments for the post.
type Post struct {
	ID                string      `json:"id"`
	AuthorID          string      `json:"author_id"`
	AuthorDisplayName string      `json:"author_display_name"`
	AuthorAvatarURL   string      `json:"author_avatar_url"`
	ContentType       ContentType `json:"content_type"`
	ContentRef        string      `json:"content_ref"`
	Caption           string      `json:"caption"`
	LikeIDs           []string    `json:"like_ids"`
	LikeCount         int         `json:"like_count"`
	CommentCount      int         `json:"comment_count"`
	CreatedAt         time.Time   `json:"created_at"`
	// Version is assigned by the document store and increases with every
	// committed write. Replica reconciliation uses it to detect replays.
	Version int64 `json:"version"`
	// Liked indicates whether the current viewer liked this post (computed)
	Liked bool `json:"liked"`
}

// GetID implements Entity.
func (p *Post) GetID() string { return p.ID }

// GetVersion implements Entity.
func (p *Post) GetVersion() int64 { return p.Version }

// SetVersion implements Entity.
func (p *Post) SetVersion(v int64) { p.Version = v }

// Clone returns an independent copy so replica views never share memory.
func (p *Post) Clone() Entity {
	cp := *p
	cp.LikeIDs = append([]string(nil), p.LikeIDs...)
	return &cp
}

// LikedBy reports whether userID is in the post's like set.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.LikeIDs {
		if id == userID {
			return true
		}
	}
	return false
}
