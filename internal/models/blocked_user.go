package models

import "time"

// BlockedUser is a block relationship mirrored into the document store so
// feed reads can consult it without calling out to the profile service.
type BlockedUser struct {
	ID        string    `json:"id"`
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"-"`
}

func (b *BlockedUser) GetID() string      { return b.ID }
func (b *BlockedUser) GetVersion() int64  { return b.Version }
func (b *BlockedUser) SetVersion(v int64) { b.Version = v }

func (b *BlockedUser) Clone() Entity {
	out := *b
	return &out
}
