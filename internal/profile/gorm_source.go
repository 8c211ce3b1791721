package profile

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"kindred/internal/blockfilter"
	"kindred/internal/cache"
	"kindred/internal/models"
	"kindred/internal/observability"
)

type gormBlockSource struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewGormBlockSource returns a BlockSource backed by the profile database.
// Snapshots are served cache-aside from Redis and invalidated on mutation.
func NewGormBlockSource(db *gorm.DB) BlockSource {
	return &gormBlockSource{db: db, log: observability.Logger.With("component", "profile")}
}

func (s *gormBlockSource) SnapshotFor(ctx context.Context, viewerID string) (blockfilter.Snapshot, error) {
	if viewerID == "" {
		return blockfilter.NewSnapshot(nil), nil
	}

	var ids []string
	err := cache.Aside(ctx, cache.BlockSnapshotKey(viewerID), &ids, cache.BlockSnapshotTTL, func() error {
		return s.db.WithContext(ctx).
			Model(&BlockRecord{}).
			Where("blocker_id = ?", viewerID).
			Pluck("blocked_id", &ids).Error
	})
	if err != nil {
		return nil, models.NewUnavailableError("load block snapshot", err)
	}
	return blockfilter.NewSnapshot(ids), nil
}

func (s *gormBlockSource) Block(ctx context.Context, blockerID, blockedID, reason string) error {
	if blockerID == "" || blockedID == "" {
		return models.NewValidationError("blocker and blocked ids are required")
	}
	if blockerID == blockedID {
		return models.NewValidationError("cannot block yourself")
	}

	rec := BlockRecord{BlockerID: blockerID, BlockedID: blockedID, Reason: reason}
	err := s.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		FirstOrCreate(&rec).Error
	if err != nil {
		return models.NewUnavailableError("create block record", err)
	}

	cache.InvalidateBlockSnapshot(ctx, blockerID)
	s.log.InfoContext(ctx, "user blocked", "blocker_id", blockerID, "blocked_id", blockedID)
	return nil
}

func (s *gormBlockSource) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return models.NewValidationError("blocker and blocked ids are required")
	}

	err := s.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&BlockRecord{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewUnavailableError("delete block record", err)
	}

	cache.InvalidateBlockSnapshot(ctx, blockerID)
	return nil
}
