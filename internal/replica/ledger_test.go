package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindred/internal/models"
)

func newLedger(t *testing.T) (*Set, *Ledger) {
	t.Helper()
	s := NewSet(nil)
	return s, NewLedger(s, nil)
}

func TestBeginAppliesForwardOptimistically(t *testing.T) {
	t.Parallel()

	s, l := newLedger(t)
	s.Put(ViewFeed, post("p1", 4))

	m := l.Begin(
		Delta{EntityID: "p1", Kind: DeltaLike, ActorID: "bob"},
		Delta{EntityID: "p1", Kind: DeltaUnlike, ActorID: "bob"},
	)

	assert.Equal(t, StatePending, m.State())
	assert.Equal(t, 1, l.PendingCount())

	e, _ := s.Get(ViewFeed, "p1")
	p := e.(*models.Post)
	assert.Equal(t, 1, p.LikeCount, "forward delta applied despite the copy being at a newer version")
	assert.Equal(t, int64(4), p.Version, "optimistic state carries no authoritative version")
}

func TestConfirmAppliesAuthoritativeResult(t *testing.T) {
	t.Parallel()

	s, l := newLedger(t)
	s.Put(ViewFeed, post("p1", 4))

	m := l.Begin(
		Delta{EntityID: "p1", Kind: DeltaLike, ActorID: "bob"},
		Delta{EntityID: "p1", Kind: DeltaUnlike, ActorID: "bob"},
	)

	committed := post("p1", 5)
	committed.LikeIDs = []string{"bob"}
	committed.LikeCount = 1
	l.Confirm(m, Delta{EntityID: "p1", Version: 5, Kind: DeltaReplace, Entity: committed})

	assert.Equal(t, StateConfirmed, m.State())
	assert.Equal(t, 0, l.PendingCount())

	e, _ := s.Get(ViewFeed, "p1")
	p := e.(*models.Post)
	assert.Equal(t, []string{"bob"}, p.LikeIDs)
	assert.Equal(t, int64(5), p.Version)
}

func TestRollbackRestoresPreMutationState(t *testing.T) {
	t.Parallel()

	s, l := newLedger(t)
	s.Put(ViewFeed, post("p1", 4))
	s.Put(ViewCurrentPost, post("p1", 4))

	m := l.Begin(
		Delta{EntityID: "p1", Kind: DeltaLike, ActorID: "bob"},
		Delta{EntityID: "p1", Kind: DeltaUnlike, ActorID: "bob"},
	)
	l.Rollback(m)

	assert.Equal(t, StateRolledBack, m.State())
	assert.Equal(t, 0, l.PendingCount())

	for _, view := range []string{ViewFeed, ViewCurrentPost} {
		e, _ := s.Get(view, "p1")
		p := e.(*models.Post)
		assert.Empty(t, p.LikeIDs, view)
		assert.Equal(t, 0, p.LikeCount, view)
	}
}

func TestRollbackRestoresCommentCount(t *testing.T) {
	t.Parallel()

	s, l := newLedger(t)
	p := post("p1", 4)
	p.CommentCount = 2
	s.Put(ViewFeed, p)

	m := l.Begin(
		Delta{EntityID: "p1", Kind: DeltaCommentCount, CountDelta: 1},
		Delta{EntityID: "p1", Kind: DeltaCommentCount, CountDelta: -1},
	)

	e, _ := s.Get(ViewFeed, "p1")
	assert.Equal(t, 3, e.(*models.Post).CommentCount)

	l.Rollback(m)

	e, _ = s.Get(ViewFeed, "p1")
	assert.Equal(t, 2, e.(*models.Post).CommentCount)
}

func TestMutationSettlesExactlyOnce(t *testing.T) {
	t.Parallel()

	s, l := newLedger(t)
	s.Put(ViewFeed, post("p1", 4))

	m := l.Begin(
		Delta{EntityID: "p1", Kind: DeltaLike, ActorID: "bob"},
		Delta{EntityID: "p1", Kind: DeltaUnlike, ActorID: "bob"},
	)

	committed := post("p1", 5)
	committed.LikeIDs = []string{"bob"}
	committed.LikeCount = 1
	l.Confirm(m, Delta{EntityID: "p1", Version: 5, Kind: DeltaReplace, Entity: committed})

	// A late rollback on a settled mutation must not undo the confirmation.
	l.Rollback(m)

	require.Equal(t, StateConfirmed, m.State())
	e, _ := s.Get(ViewFeed, "p1")
	assert.Equal(t, []string{"bob"}, e.(*models.Post).LikeIDs)
}

func TestConfirmRemovalSettlesWithoutTouchingViews(t *testing.T) {
	t.Parallel()

	s, l := newLedger(t)
	s.Put(ViewFeed, post("p1", 4))

	m := l.Begin(
		Delta{EntityID: "p1", Kind: DeltaLike, ActorID: "bob"},
		Delta{EntityID: "p1", Kind: DeltaUnlike, ActorID: "bob"},
	)
	l.ConfirmRemoval(m)

	assert.Equal(t, StateConfirmed, m.State())
	assert.Equal(t, 0, l.PendingCount())

	e, _ := s.Get(ViewFeed, "p1")
	assert.Equal(t, 1, e.(*models.Post).LikeCount, "the optimistic value stays in place")
}
