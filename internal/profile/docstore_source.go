package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kindred/internal/blockfilter"
	"kindred/internal/cache"
	"kindred/internal/docstore"
	"kindred/internal/models"
	"kindred/internal/observability"
)

// blockPageSize bounds each snapshot page; block lists are small in practice
// but the store caps page sizes, so we walk the cursor anyway.
const blockPageSize = 100

type docstoreBlockSource struct {
	store docstore.Store
	log   *slog.Logger
}

// NewDocstoreBlockSource returns a BlockSource that reads and writes the
// blockedUsers collection directly. Deployments without a profile database
// run on this source alone.
func NewDocstoreBlockSource(store docstore.Store) BlockSource {
	return &docstoreBlockSource{store: store, log: observability.Logger.With("component", "profile")}
}

// blockRecordID is deterministic so block/unblock never need a lookup query.
func blockRecordID(blockerID, blockedID string) string {
	return fmt.Sprintf("%s~%s", blockerID, blockedID)
}

func (s *docstoreBlockSource) SnapshotFor(ctx context.Context, viewerID string) (blockfilter.Snapshot, error) {
	if viewerID == "" {
		return blockfilter.NewSnapshot(nil), nil
	}

	var ids []string
	err := cache.Aside(ctx, cache.BlockSnapshotKey(viewerID), &ids, cache.BlockSnapshotTTL, func() error {
		var cursor docstore.Cursor
		for {
			res, err := s.store.Query(ctx, docstore.Query{
				Collection: docstore.CollectionBlockedUsers,
				Filter:     &docstore.Filter{Field: "blocker_id", Value: viewerID},
				Limit:      blockPageSize,
				StartAfter: cursor,
			})
			if err != nil {
				return err
			}
			for _, doc := range res.Docs {
				var rec models.BlockedUser
				if err := doc.Decode(&rec); err != nil {
					return err
				}
				ids = append(ids, rec.BlockedID)
			}
			if len(res.Docs) < blockPageSize || res.NextCursor == "" {
				return nil
			}
			cursor = res.NextCursor
		}
	})
	if err != nil {
		return nil, err
	}
	return blockfilter.NewSnapshot(ids), nil
}

func (s *docstoreBlockSource) Block(ctx context.Context, blockerID, blockedID, reason string) error {
	if blockerID == "" || blockedID == "" {
		return models.NewValidationError("blocker and blocked ids are required")
	}
	if blockerID == blockedID {
		return models.NewValidationError("cannot block yourself")
	}

	id := blockRecordID(blockerID, blockedID)
	if _, err := s.store.Get(ctx, docstore.CollectionBlockedUsers, id); err == nil {
		return nil
	} else if !models.IsNotFound(err) {
		return err
	}

	rec := models.BlockedUser{
		ID:        id,
		BlockerID: blockerID,
		BlockedID: blockedID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.store.Create(ctx, docstore.CollectionBlockedUsers, id, &rec); err != nil {
		return err
	}

	cache.InvalidateBlockSnapshot(ctx, blockerID)
	s.log.InfoContext(ctx, "user blocked", "blocker_id", blockerID, "blocked_id", blockedID)
	return nil
}

func (s *docstoreBlockSource) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return models.NewValidationError("blocker and blocked ids are required")
	}

	err := s.store.Delete(ctx, docstore.CollectionBlockedUsers, blockRecordID(blockerID, blockedID))
	if err != nil && !models.IsNotFound(err) {
		return err
	}

	cache.InvalidateBlockSnapshot(ctx, blockerID)
	return nil
}
