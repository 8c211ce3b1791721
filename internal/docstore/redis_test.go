package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindred/internal/models"
	"kindred/internal/testutil"
)

func newTestStore(t *testing.T, opts ...RedisOption) (*RedisStore, *redis.Client) {
	t.Helper()
	_, client := testutil.NewRedis(t)
	return NewRedisStore(client, opts...), client
}

func testPost(id, authorID string, createdAt time.Time) *models.Post {
	return &models.Post{
		ID:          id,
		AuthorID:    authorID,
		ContentType: models.ContentTypeText,
		Caption:     "caption for " + id,
		LikeIDs:     []string{},
		CreatedAt:   createdAt,
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), CollectionPosts, "missing")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

	doc, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", created))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, created, doc.CreatedAt)

	got, err := store.Get(ctx, CollectionPosts, "p1")
	require.NoError(t, err)

	var p models.Post
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, "alice", p.AuthorID)
	assert.Equal(t, "caption for p1", p.Caption)
	assert.Equal(t, int64(1), p.Version, "Decode copies the store version onto the entity")
}

func TestUpdateAppliesFieldOps(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)

	doc, err := store.Update(ctx, CollectionPosts, "p1",
		ArrayUnion("like_ids", "bob"),
		Increment("like_count", 1),
		Set("caption", "edited"),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	var p models.Post
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, []string{"bob"}, p.LikeIDs)
	assert.Equal(t, 1, p.LikeCount)
	assert.Equal(t, "edited", p.Caption)

	// Union is idempotent.
	doc, err = store.Update(ctx, CollectionPosts, "p1", ArrayUnion("like_ids", "bob"))
	require.NoError(t, err)
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, []string{"bob"}, p.LikeIDs)

	doc, err = store.Update(ctx, CollectionPosts, "p1",
		ArrayRemove("like_ids", "bob"),
		Increment("like_count", -1),
	)
	require.NoError(t, err)
	require.NoError(t, doc.Decode(&p))
	assert.Empty(t, p.LikeIDs)
	assert.Equal(t, 0, p.LikeCount)
}

func TestUpdateFlooredDecrementClampsAtZero(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)

	doc, err := store.Update(ctx, CollectionPosts, "p1", IncrementFloored("comment_count", -1))
	require.NoError(t, err)

	var p models.Post
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, 0, p.CommentCount)

	// An unfloored decrement is allowed to go negative.
	doc, err = store.Update(ctx, CollectionPosts, "p1", Increment("comment_count", -1))
	require.NoError(t, err)
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, -1, p.CommentCount)
}

func TestQueryNewestFirst(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"p1", "p2", "p3"} {
		_, err := store.Create(ctx, CollectionPosts, id, testPost(id, "alice", base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	res, err := store.Query(ctx, Query{
		Collection: CollectionPosts,
		Filter:     &Filter{Field: "author_id", Value: "alice"},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res.Docs, 3)
	assert.Equal(t, "p3", res.Docs[0].ID)
	assert.Equal(t, "p2", res.Docs[1].ID)
	assert.Equal(t, "p1", res.Docs[2].ID)
}

func TestQueryFilterExcludesOtherAuthors(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, CollectionPosts, "pa", testPost("pa", "alice", now))
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionPosts, "pb", testPost("pb", "bob", now.Add(time.Second)))
	require.NoError(t, err)

	res, err := store.Query(ctx, Query{
		Collection: CollectionPosts,
		Filter:     &Filter{Field: "author_id", Value: "alice"},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "pa", res.Docs[0].ID)
}

func TestQueryCursorStableUnderAppends(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"p1", "p2", "p3"} {
		_, err := store.Create(ctx, CollectionPosts, id, testPost(id, "alice", base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	first, err := store.Query(ctx, Query{Collection: CollectionPosts, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Docs, 2)
	assert.Equal(t, "p3", first.Docs[0].ID)
	assert.Equal(t, "p2", first.Docs[1].ID)

	// A newer post arriving mid-pagination must not shift the second page.
	_, err = store.Create(ctx, CollectionPosts, "p4", testPost("p4", "alice", base.Add(time.Hour)))
	require.NoError(t, err)

	second, err := store.Query(ctx, Query{Collection: CollectionPosts, Limit: 2, StartAfter: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Docs, 1)
	assert.Equal(t, "p1", second.Docs[0].ID)
}

func TestQueryCursorTieBreaksEqualTimestamps(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	same := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"pa", "pb", "pc"} {
		_, err := store.Create(ctx, CollectionPosts, id, testPost(id, "alice", same))
		require.NoError(t, err)
	}

	var seen []string
	var cursor Cursor
	for {
		res, err := store.Query(ctx, Query{Collection: CollectionPosts, Limit: 1, StartAfter: cursor})
		require.NoError(t, err)
		if len(res.Docs) == 0 {
			break
		}
		for _, d := range res.Docs {
			seen = append(seen, d.ID)
		}
		cursor = res.NextCursor
	}
	assert.Equal(t, []string{"pc", "pb", "pa"}, seen, "each item exactly once despite identical scores")
}

func TestQueryValidation(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
	}{
		{
			name: "non-positive limit",
			q:    Query{Collection: CollectionPosts},
		},
		{
			name: "membership filter over the cap",
			q: Query{
				Collection: CollectionPosts,
				In:         &InFilter{Field: "author_id", Values: make([]string, MaxInValues+1)},
				Limit:      10,
			},
		},
		{
			name: "unindexed equality field",
			q: Query{
				Collection: CollectionPosts,
				Filter:     &Filter{Field: "caption", Value: "x"},
				Limit:      10,
			},
		},
		{
			name: "unindexed membership field",
			q: Query{
				Collection: CollectionPosts,
				In:         &InFilter{Field: "caption", Values: []string{"x"}},
				Limit:      10,
			},
		},
		{
			name: "equality and membership combined",
			q: Query{
				Collection: CollectionPosts,
				Filter:     &Filter{Field: "author_id", Value: "alice"},
				In:         &InFilter{Field: "author_id", Values: []string{"bob"}},
				Limit:      10,
			},
		},
		{
			name: "garbage cursor",
			q:    Query{Collection: CollectionPosts, Limit: 10, StartAfter: "not base64!"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Query(ctx, tt.q)
			require.Error(t, err)
			assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
		})
	}
}

func TestQueryMembershipUnion(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Create(ctx, CollectionPosts, "pa", testPost("pa", "alice", base))
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionPosts, "pb", testPost("pb", "bob", base.Add(time.Second)))
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionPosts, "pc", testPost("pc", "carol", base.Add(2*time.Second)))
	require.NoError(t, err)

	res, err := store.Query(ctx, Query{
		Collection: CollectionPosts,
		In:         &InFilter{Field: "author_id", Values: []string{"alice", "carol"}},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res.Docs, 2)
	assert.Equal(t, "pc", res.Docs[0].ID)
	assert.Equal(t, "pa", res.Docs[1].ID)
}

func TestDeleteRemovesDocumentAndIndexes(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, CollectionPosts, "p1"))

	_, err = store.Get(ctx, CollectionPosts, "p1")
	assert.True(t, models.IsNotFound(err))

	res, err := store.Query(ctx, Query{
		Collection: CollectionPosts,
		Filter:     &Filter{Field: "author_id", Value: "alice"},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Docs)

	err = store.Delete(ctx, CollectionPosts, "p1")
	assert.True(t, models.IsNotFound(err))
}

func TestRunBatchCommitsSetsAndDeletes(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, CollectionPosts, "old", testPost("old", "alice", now))
	require.NoError(t, err)

	err = store.RunBatch(ctx, func(b Batch) error {
		if err := b.Set(CollectionPosts, "new1", testPost("new1", "bob", now.Add(time.Second))); err != nil {
			return err
		}
		if err := b.Set(CollectionPosts, "new2", testPost("new2", "bob", now.Add(2*time.Second))); err != nil {
			return err
		}
		b.Delete(CollectionPosts, "old")
		b.Delete(CollectionPosts, "never-existed") // idempotent
		return nil
	})
	require.NoError(t, err)

	_, err = store.Get(ctx, CollectionPosts, "old")
	assert.True(t, models.IsNotFound(err))

	res, err := store.Query(ctx, Query{
		Collection: CollectionPosts,
		Filter:     &Filter{Field: "author_id", Value: "bob"},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Docs, 2)
}

func TestRunTransactionCommits(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)

	refs := []Ref{{Collection: CollectionPosts, ID: "p1"}}
	err = store.RunTransaction(ctx, refs, func(tx Tx) error {
		doc, err := tx.Get(CollectionPosts, "p1")
		if err != nil {
			return err
		}
		var p models.Post
		if err := doc.Decode(&p); err != nil {
			return err
		}
		return tx.Update(CollectionPosts, "p1",
			ArrayUnion("like_ids", "bob"),
			Set("like_count", len(p.LikeIDs)+1),
		)
	})
	require.NoError(t, err)

	doc, err := store.Get(ctx, CollectionPosts, "p1")
	require.NoError(t, err)
	var p models.Post
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, []string{"bob"}, p.LikeIDs)
	assert.Equal(t, 1, p.LikeCount)
	assert.Equal(t, int64(2), p.Version)
}

func TestRunTransactionRetriesAfterConflict(t *testing.T) {
	t.Parallel()

	store, client := newTestStore(t, WithTxBackoff(time.Millisecond))
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)

	attempts := 0
	refs := []Ref{{Collection: CollectionPosts, ID: "p1"}}
	err = store.RunTransaction(ctx, refs, func(tx Tx) error {
		attempts++
		if attempts == 1 {
			// Outside write between WATCH and EXEC fails the first attempt.
			require.NoError(t, client.HSet(ctx, docKey(CollectionPosts, "p1"), "intruder", "1").Err())
		}
		return tx.Update(CollectionPosts, "p1", Increment("like_count", 1))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, err := store.Get(ctx, CollectionPosts, "p1")
	require.NoError(t, err)
	var p models.Post
	require.NoError(t, doc.Decode(&p))
	assert.Equal(t, 1, p.LikeCount, "the increment applied exactly once")
}

func TestRunTransactionConflictBudgetExhausted(t *testing.T) {
	t.Parallel()

	store, client := newTestStore(t, WithTxAttempts(3), WithTxBackoff(time.Millisecond))
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)

	attempts := 0
	refs := []Ref{{Collection: CollectionPosts, ID: "p1"}}
	err = store.RunTransaction(ctx, refs, func(tx Tx) error {
		attempts++
		require.NoError(t, client.HSet(ctx, docKey(CollectionPosts, "p1"), "intruder", "1").Err())
		return tx.Update(CollectionPosts, "p1", Increment("like_count", 1))
	})
	require.Error(t, err)
	assert.True(t, models.IsConflict(err))
	assert.Equal(t, 3, attempts)
}

func TestRunTransactionRejectsUndeclaredDocuments(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPosts, "p1", testPost("p1", "alice", time.Now().UTC()))
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionPosts, "p2", testPost("p2", "bob", time.Now().UTC()))
	require.NoError(t, err)

	refs := []Ref{{Collection: CollectionPosts, ID: "p1"}}
	err = store.RunTransaction(ctx, refs, func(tx Tx) error {
		_, err := tx.Get(CollectionPosts, "p2")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))
}

func TestRunTransactionFunctionErrorPassesThrough(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	refs := []Ref{{Collection: CollectionPosts, ID: "missing"}}
	err := store.RunTransaction(ctx, refs, func(tx Tx) error {
		_, err := tx.Get(CollectionPosts, "missing")
		return err
	})
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err), "application errors are not retried")
}

func TestTransactionSetPreservesCreationOrder(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Create(ctx, CollectionComments, "c1", &models.Comment{
		ID: "c1", PostID: "p1", AuthorID: "alice", Text: "first", CreatedAt: created,
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionComments, "c2", &models.Comment{
		ID: "c2", PostID: "p1", AuthorID: "bob", Text: "second", CreatedAt: created.Add(time.Second),
	})
	require.NoError(t, err)

	// Overwriting c1 with a newer created_at must not reorder the thread.
	edited := &models.Comment{
		ID: "c1", PostID: "p1", AuthorID: "alice", Text: "first, edited", CreatedAt: created.Add(time.Hour),
	}
	refs := []Ref{{Collection: CollectionComments, ID: "c1"}}
	err = store.RunTransaction(ctx, refs, func(tx Tx) error {
		return tx.Set(CollectionComments, "c1", edited)
	})
	require.NoError(t, err)

	res, err := store.Query(ctx, Query{
		Collection: CollectionComments,
		Filter:     &Filter{Field: "post_id", Value: "p1"},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res.Docs, 2)
	assert.Equal(t, "c2", res.Docs[0].ID)
	assert.Equal(t, "c1", res.Docs[1].ID)
}
