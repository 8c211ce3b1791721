package models

import (
	"time"
)

// MaxCommentLen bounds comment text length, measured in runes after trimming.
const MaxCommentLen = 500

// Comment represents a comment on a post. Comments are stored flat; one
// level of nesting is reconstructed at read time from ParentCommentID.
type Comment struct {
	ID              string     `json:"id"`
	PostID          string     `json:"post_id"`
	AuthorID        string     `json:"author_id"`
	Text            string     `json:"text"`
	ParentCommentID string     `json:"parent_comment_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	Version         int64      `json:"version"`
	// Replies is populated at read time only; it is never persisted.
	Replies []*Comment `json:"replies,omitempty"`
}

// GetID implements Entity.
func (c *Comment) GetID() string { return c.ID }

// GetVersion implements Entity.
func (c *Comment) GetVersion() int64 { return c.Version }

// SetVersion implements Entity.
func (c *Comment) SetVersion(v int64) { c.Version = v }

// Clone returns an independent copy so replica views never share memory.
func (c *Comment) Clone() Entity {
	cp := *c
	if c.EditedAt != nil {
		t := *c.EditedAt
		cp.EditedAt = &t
	}
	cp.Replies = nil
	return &cp
}

// NestComments rebuilds one level of reply nesting from a flat,
// newest-first comment list. Replies whose parent is missing (already
// deleted) are kept at the top level rather than dropped.
func NestComments(flat []*Comment) []*Comment {
	byID := make(map[string]*Comment, len(flat))
	for _, c := range flat {
		byID[c.ID] = c
	}
	var roots []*Comment
	for _, c := range flat {
		if c.ParentCommentID == "" {
			roots = append(roots, c)
			continue
		}
		parent, ok := byID[c.ParentCommentID]
		if !ok {
			roots = append(roots, c)
			continue
		}
		parent.Replies = append(parent.Replies, c)
	}
	return roots
}
