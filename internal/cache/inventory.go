package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	BlockSnapshotKeyPrefix = "blocks:%s"
	UnreadCountKeyPrefix   = "unread:%s"
)

const (
	BlockSnapshotTTL = 5 * time.Minute
	UnreadCountTTL   = 1 * time.Minute
)

// BlockSnapshotKey is the cache key for a viewer's block set.
func BlockSnapshotKey(viewerID string) string {
	return fmt.Sprintf(BlockSnapshotKeyPrefix, viewerID)
}

// UnreadCountKey is the cache key for a user's unread notification count.
func UnreadCountKey(userID string) string {
	return fmt.Sprintf(UnreadCountKeyPrefix, userID)
}

// InvalidateBlockSnapshot drops the cached block set after block/unblock.
func InvalidateBlockSnapshot(ctx context.Context, viewerID string) {
	Invalidate(ctx, BlockSnapshotKey(viewerID))
}

// InvalidateUnreadCount drops the cached unread count after fan-out or read.
func InvalidateUnreadCount(ctx context.Context, userID string) {
	Invalidate(ctx, UnreadCountKey(userID))
}
