// Package profile adapts the user-profile collaborator that owns block
// relationships. The feed core only ever consumes a viewer's block set as a
// read-only snapshot passed into the block filter; this package supplies
// that snapshot and the block/unblock writes behind it.
package profile

import (
	"context"
	"time"

	"kindred/internal/blockfilter"
)

// BlockRecord is one blocker -> blocked relationship. The pair is unique.
type BlockRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	BlockerID string    `gorm:"not null;index;uniqueIndex:idx_blocker_blocked" json:"blocker_id"`
	BlockedID string    `gorm:"not null;uniqueIndex:idx_blocker_blocked" json:"blocked_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName maps the model onto the profile service's table.
func (BlockRecord) TableName() string {
	return "block_records"
}

// BlockSource supplies block snapshots and maintains block records.
type BlockSource interface {
	// SnapshotFor returns the viewer's full block set. Callers refresh it
	// on their own schedule and pass it into blockfilter; the filter
	// itself performs no I/O.
	SnapshotFor(ctx context.Context, viewerID string) (blockfilter.Snapshot, error)
	// Block records that blockerID has blocked blockedID. Blocking an
	// already-blocked user is a no-op.
	Block(ctx context.Context, blockerID, blockedID, reason string) error
	// Unblock removes the record; removing a non-existent record is a no-op.
	Unblock(ctx context.Context, blockerID, blockedID string) error
}
