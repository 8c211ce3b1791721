package models

import (
	"time"
)

// NotificationKind enumerates the events that produce a notification.
type NotificationKind string

// Supported notification kinds.
const (
	NotificationLike    NotificationKind = "like"
	NotificationComment NotificationKind = "comment"
	NotificationFollow  NotificationKind = "follow"
	NotificationMention NotificationKind = "mention"
)

// Valid reports whether k is one of the supported notification kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationLike, NotificationComment, NotificationFollow, NotificationMention:
		return true
	}
	return false
}

// Notification is a fan-out record addressed to a single recipient.
// Read is monotonic: it only ever transitions false -> true.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	SenderID    string           `json:"sender_id"`
	Kind        NotificationKind `json:"kind"`
	SubjectRef  string           `json:"subject_ref"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
	Version     int64            `json:"version"`
}

// GetID implements Entity.
func (n *Notification) GetID() string { return n.ID }

// GetVersion implements Entity.
func (n *Notification) GetVersion() int64 { return n.Version }

// SetVersion implements Entity.
func (n *Notification) SetVersion(v int64) { n.Version = v }

// Clone returns an independent copy so replica views never share memory.
func (n *Notification) Clone() Entity {
	cp := *n
	return &cp
}
