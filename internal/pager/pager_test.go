package pager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindred/internal/docstore"
)

// stubStore lets each test script the query behavior; the other store
// methods are never reached from the pager.
type stubStore struct {
	queryFn func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error)
}

func (s *stubStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	panic("not used")
}

func (s *stubStore) Create(ctx context.Context, collection, id string, data any) (*docstore.Document, error) {
	panic("not used")
}

func (s *stubStore) Update(ctx context.Context, collection, id string, ops ...docstore.FieldOp) (*docstore.Document, error) {
	panic("not used")
}

func (s *stubStore) Delete(ctx context.Context, collection, id string) error {
	panic("not used")
}

func (s *stubStore) Query(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
	return s.queryFn(ctx, q)
}

func (s *stubStore) RunBatch(ctx context.Context, fn func(b docstore.Batch) error) error {
	panic("not used")
}

func (s *stubStore) RunTransaction(ctx context.Context, refs []docstore.Ref, fn func(tx docstore.Tx) error) error {
	panic("not used")
}

func doc(id string, createdAt time.Time) *docstore.Document {
	return &docstore.Document{
		Collection: docstore.CollectionPosts,
		ID:         id,
		Data:       []byte("{}"),
		Version:    1,
		CreatedAt:  createdAt,
	}
}

func TestFetchPageFullPageHasMore(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			assert.Equal(t, 2, q.Limit)
			assert.Equal(t, docstore.Cursor("prev"), q.StartAfter)
			return &docstore.QueryResult{
				Docs:       []*docstore.Document{doc("p2", now), doc("p1", now.Add(-time.Second))},
				NextCursor: "next",
			}, nil
		},
	}

	page, err := New(store).FetchPage(context.Background(), docstore.Query{Collection: docstore.CollectionPosts}, "prev", 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, docstore.Cursor("next"), page.NextCursor)
}

func TestFetchPageShortPageEndsPagination(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			return &docstore.QueryResult{
				Docs:       []*docstore.Document{doc("p1", now)},
				NextCursor: "leftover",
			}, nil
		},
	}

	page, err := New(store).FetchPage(context.Background(), docstore.Query{Collection: docstore.CollectionPosts}, "", 5)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor, "a short page never hands out a continuation")
}

func TestFetchPagePropagatesErrorWithoutConsumingCursor(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			return nil, errors.New("store down")
		},
	}

	_, err := New(store).FetchPage(context.Background(), docstore.Query{Collection: docstore.CollectionPosts}, "cur", 5)
	require.Error(t, err)
}

func TestBatchedInSplitsIntoCappedChunks(t *testing.T) {
	t.Parallel()

	values := make([]string, 25)
	for i := range values {
		values[i] = fmt.Sprintf("author%02d", i)
	}

	var chunks [][]string
	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			require.NotNil(t, q.In)
			require.LessOrEqual(t, len(q.In.Values), docstore.MaxInValues)
			chunks = append(chunks, q.In.Values)
			return &docstore.QueryResult{}, nil
		},
	}

	_, err := New(store).BatchedIn(context.Background(), docstore.CollectionPosts, "author_id", values, "", 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)
}

func TestBatchedInUnionsNewestFirstAcrossChunks(t *testing.T) {
	t.Parallel()

	values := make([]string, docstore.MaxInValues+1) // forces two chunks
	for i := range values {
		values[i] = fmt.Sprintf("author%02d", i)
	}
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	call := 0
	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			call++
			if call == 1 {
				return &docstore.QueryResult{Docs: []*docstore.Document{
					doc("p4", base.Add(4*time.Second)),
					doc("p1", base.Add(1*time.Second)),
				}}, nil
			}
			return &docstore.QueryResult{Docs: []*docstore.Document{
				doc("p3", base.Add(3*time.Second)),
				doc("p2", base.Add(2*time.Second)),
			}}, nil
		},
	}

	page, err := New(store).BatchedIn(context.Background(), docstore.CollectionPosts, "author_id", values, "", 3)
	require.NoError(t, err)

	var ids []string
	for _, d := range page.Items {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"p4", "p3", "p2"}, ids, "the newest limit items across all chunks")
	assert.True(t, page.HasMore)
	assert.Equal(t, docstore.CursorFor(page.Items[2]), page.NextCursor)
}

func TestBatchedInDeduplicatesAcrossChunks(t *testing.T) {
	t.Parallel()

	values := make([]string, docstore.MaxInValues+1)
	for i := range values {
		values[i] = fmt.Sprintf("author%02d", i)
	}
	now := time.Now().UTC()

	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			return &docstore.QueryResult{Docs: []*docstore.Document{doc("same", now)}}, nil
		},
	}

	page, err := New(store).BatchedIn(context.Background(), docstore.CollectionPosts, "author_id", values, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
}

func TestBatchedInEmptyValues(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			t.Fatal("no query expected for an empty author list")
			return nil, nil
		},
	}

	page, err := New(store).BatchedIn(context.Background(), docstore.CollectionPosts, "author_id", nil, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestBatchedInPropagatesChunkError(t *testing.T) {
	t.Parallel()

	values := make([]string, docstore.MaxInValues+1)
	for i := range values {
		values[i] = fmt.Sprintf("author%02d", i)
	}

	call := 0
	store := &stubStore{
		queryFn: func(ctx context.Context, q docstore.Query) (*docstore.QueryResult, error) {
			call++
			if call == 2 {
				return nil, errors.New("store down")
			}
			return &docstore.QueryResult{}, nil
		},
	}

	_, err := New(store).BatchedIn(context.Background(), docstore.CollectionPosts, "author_id", values, "", 10)
	require.Error(t, err)
}
