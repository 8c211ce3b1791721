// Package pager provides forward-only cursor pagination over document store
// queries, plus the batched membership-predicate helper that works around
// the store's 10-value "in" cap by splitting and unioning instead of
// silently narrowing the query.
package pager

import (
	"context"
	"sort"

	"kindred/internal/docstore"
)

// Page is one page of documents with continuation signals. HasMore is the
// documented heuristic "the page came back full": an exact answer would
// require a subsequent empty fetch.
type Page struct {
	Items      []*docstore.Document
	NextCursor docstore.Cursor
	HasMore    bool
}

// Pager executes paged reads. Each call is a pure read: it never mutates
// replicas, and on failure the caller's previous cursor remains valid so a
// retry resumes at the same point.
type Pager struct {
	store docstore.Store
}

// New creates a Pager over the given store.
func New(store docstore.Store) *Pager {
	return &Pager{store: store}
}

// FetchPage runs the query with the given cursor and page size.
func (p *Pager) FetchPage(ctx context.Context, q docstore.Query, cursor docstore.Cursor, pageSize int) (*Page, error) {
	q.StartAfter = cursor
	q.Limit = pageSize
	res, err := p.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	page := &Page{
		Items:   res.Docs,
		HasMore: len(res.Docs) == pageSize,
	}
	if page.HasMore {
		page.NextCursor = res.NextCursor
	}
	return page, nil
}

// BatchedIn runs a membership query whose value list may exceed the store's
// cap. Values are chunked, each chunk queried separately, and the results
// unioned and re-sorted newest-first. It reads limit items per chunk, so the
// union is a superset of the true top-limit; the caller gets exactly the
// newest limit documents across all chunks.
func (p *Pager) BatchedIn(ctx context.Context, collection, field string, values []string, cursor docstore.Cursor, limit int) (*Page, error) {
	if len(values) == 0 {
		return &Page{}, nil
	}

	var merged []*docstore.Document
	seen := make(map[string]struct{})
	for start := 0; start < len(values); start += docstore.MaxInValues {
		end := start + docstore.MaxInValues
		if end > len(values) {
			end = len(values)
		}
		res, err := p.store.Query(ctx, docstore.Query{
			Collection: collection,
			In:         &docstore.InFilter{Field: field, Values: values[start:end]},
			Limit:      limit,
			StartAfter: cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range res.Docs {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			merged = append(merged, doc)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID > merged[j].ID
	})
	hasMore := len(merged) >= limit
	if len(merged) > limit {
		merged = merged[:limit]
	}

	page := &Page{Items: merged, HasMore: hasMore}
	if hasMore && len(merged) > 0 {
		last := merged[len(merged)-1]
		page.NextCursor = docstore.CursorFor(last)
	}
	return page, nil
}
