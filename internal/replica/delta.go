package replica

import (
	"log/slog"
	"time"

	"kindred/internal/models"
	"kindred/internal/observability"
)

// DeltaKind enumerates the mutations that propagate across replica views.
type DeltaKind string

// Supported delta kinds.
const (
	DeltaLike         DeltaKind = "like"
	DeltaUnlike       DeltaKind = "unlike"
	DeltaCommentCount DeltaKind = "comment_count"
	DeltaEdit         DeltaKind = "edit"
	DeltaRead         DeltaKind = "read"
	DeltaReplace      DeltaKind = "replace"
)

// Delta is one logical mutation of a single entity. Applying it to a view
// whose copy is already at or past Version is a no-op, which makes replays
// of duplicated events harmless.
type Delta struct {
	EntityID string
	Version  int64
	Kind     DeltaKind

	// ActorID is the liking/unliking user for like deltas.
	ActorID string
	// CountDelta adjusts CommentCount for comment_count deltas.
	CountDelta int
	// Text and EditedAt carry comment edits.
	Text     string
	EditedAt *time.Time
	// Entity replaces the whole copy for replace deltas.
	Entity models.Entity

	// Force bypasses the version gate. Only optimistic applications and
	// rollbacks use it: they adjust local provisional state that has no
	// authoritative version yet.
	Force bool
}

// Apply locates every view holding the delta's entity and applies the same
// change exactly once per view, in no particular order. It returns the
// number of views updated. Views that do not hold the entity are untouched.
func (s *Set) Apply(d Delta) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, v := range s.views {
		e, ok := v.entities[d.EntityID]
		if !ok {
			continue
		}
		if !d.Force && e.GetVersion() >= d.Version {
			continue // replay of a delta this copy has already seen
		}
		if next := s.applyToEntity(e, d); next != nil {
			v.entities[d.EntityID] = next
			applied++
		}
	}
	if applied > 0 {
		observability.ReplicaReconciliations.WithLabelValues(string(d.Kind)).Add(float64(applied))
	}
	return applied
}

// applyToEntity returns the mutated copy, or nil when the delta does not
// apply to this entity type (logged as an internal inconsistency).
func (s *Set) applyToEntity(e models.Entity, d Delta) models.Entity {
	if d.Kind == DeltaReplace {
		if d.Entity == nil {
			s.log.Error("replace delta without entity", slog.String("entity_id", d.EntityID))
			return nil
		}
		return d.Entity.Clone()
	}

	next := e.Clone()
	switch target := next.(type) {
	case *models.Post:
		switch d.Kind {
		case DeltaLike:
			if !target.LikedBy(d.ActorID) {
				target.LikeIDs = append(target.LikeIDs, d.ActorID)
			}
			target.LikeCount = len(target.LikeIDs)
		case DeltaUnlike:
			kept := target.LikeIDs[:0]
			for _, id := range target.LikeIDs {
				if id != d.ActorID {
					kept = append(kept, id)
				}
			}
			target.LikeIDs = kept
			target.LikeCount = len(target.LikeIDs)
		case DeltaCommentCount:
			target.CommentCount += d.CountDelta
			if target.CommentCount < 0 {
				observability.ClampedCounters.Inc()
				s.log.Error("comment count clamped at zero",
					slog.String("entity_id", d.EntityID))
				target.CommentCount = 0
			}
		default:
			s.log.Error("delta kind does not apply to post",
				slog.String("kind", string(d.Kind)), slog.String("entity_id", d.EntityID))
			return nil
		}

	case *models.Comment:
		if d.Kind != DeltaEdit {
			s.log.Error("delta kind does not apply to comment",
				slog.String("kind", string(d.Kind)), slog.String("entity_id", d.EntityID))
			return nil
		}
		target.Text = d.Text
		target.EditedAt = d.EditedAt

	case *models.Notification:
		if d.Kind != DeltaRead {
			s.log.Error("delta kind does not apply to notification",
				slog.String("kind", string(d.Kind)), slog.String("entity_id", d.EntityID))
			return nil
		}
		target.Read = true // monotonic; never cleared

	default:
		s.log.Error("delta on unknown entity type", slog.String("entity_id", d.EntityID))
		return nil
	}

	if d.Version > next.GetVersion() {
		next.SetVersion(d.Version)
	}
	return next
}
