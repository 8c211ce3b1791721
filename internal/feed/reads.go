package feed

import (
	"context"

	"kindred/internal/blockfilter"
	"kindred/internal/cache"
	"kindred/internal/docstore"
	"kindred/internal/models"
	"kindred/internal/observability"
	"kindred/internal/replica"
)

// PostPage is one page of posts, newest first, with the continuation cursor.
type PostPage struct {
	Posts      []*models.Post  `json:"posts"`
	NextCursor docstore.Cursor `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// CommentPage is one page of a post's comment thread. Comments arrive
// flat from the store and are nested one level for the response.
type CommentPage struct {
	Comments   []*models.Comment `json:"comments"`
	NextCursor docstore.Cursor   `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// NotificationPage is one page of a user's inbox, newest first.
type NotificationPage struct {
	Notifications []*models.Notification `json:"notifications"`
	NextCursor    docstore.Cursor        `json:"next_cursor,omitempty"`
	HasMore       bool                   `json:"has_more"`
}

// FeedPage returns one page of the global feed visible to viewerID.
// Posts from blocked authors are removed after fetching, so a page may
// run short of the requested limit.
func (c *Coordinator) FeedPage(ctx context.Context, viewerID string, cursor docstore.Cursor, limit int) (*PostPage, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "feed_page", "")
	defer span.End()

	return c.postPage(ctx, viewerID, docstore.Query{Collection: docstore.CollectionPosts}, cursor, limit, replica.ViewFeed)
}

// AuthorPosts returns one page of authorID's posts visible to viewerID.
func (c *Coordinator) AuthorPosts(ctx context.Context, viewerID, authorID string, cursor docstore.Cursor, limit int) (*PostPage, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "author_posts", authorID)
	defer span.End()

	q := docstore.Query{
		Collection: docstore.CollectionPosts,
		Filter:     &docstore.Filter{Field: "author_id", Value: authorID},
	}
	return c.postPage(ctx, viewerID, q, cursor, limit, replica.ViewAuthorPosts(authorID))
}

func (c *Coordinator) postPage(ctx context.Context, viewerID string, q docstore.Query, cursor docstore.Cursor, limit int, viewName string) (*PostPage, error) {
	if limit <= 0 {
		limit = c.pageSize
	}
	gen := c.pageGen(viewName, cursor)

	page, err := c.pager.FetchPage(ctx, q, cursor, limit)
	if err != nil {
		return nil, err
	}
	posts := make([]*models.Post, 0, len(page.Items))
	for _, doc := range page.Items {
		p := &models.Post{}
		if err := doc.Decode(p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	snap, err := c.blocks.SnapshotFor(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	posts = blockfilter.FilterList(viewerID, posts, func(p *models.Post) string { return p.AuthorID }, snap)
	for _, p := range posts {
		p.Liked = p.LikedBy(viewerID)
	}

	c.reconcilePosts(viewName, gen, posts)
	return &PostPage{Posts: posts, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// pageGen returns the generation a page fetch belongs to. A first page
// starts a new refresh of the view; continuation pages ride the refresh
// already in progress, so a newer refresh invalidates them.
func (c *Coordinator) pageGen(viewName string, cursor docstore.Cursor) uint64 {
	if cursor == "" {
		return c.replicas.BeginRefresh(viewName)
	}
	return c.replicas.Generation(viewName)
}

// reconcilePosts folds a fetched page into the view, discarding it when a
// newer refresh of the view started while the fetch was in flight.
func (c *Coordinator) reconcilePosts(viewName string, gen uint64, posts []*models.Post) {
	es := make([]models.Entity, len(posts))
	for i, p := range posts {
		es[i] = p
	}
	c.replicas.Reconcile(viewName, gen, es)
}

// PostsByAuthors returns one page of posts drawn from the given authors,
// newest first. Author lists larger than the store's membership-predicate
// cap are split and the results unioned, so a long list never narrows the
// page to a single chunk of authors.
func (c *Coordinator) PostsByAuthors(ctx context.Context, viewerID string, authorIDs []string, cursor docstore.Cursor, limit int) (*PostPage, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "posts_by_authors", "")
	defer span.End()

	if limit <= 0 {
		limit = c.pageSize
	}
	gen := c.pageGen(replica.ViewFeed, cursor)

	page, err := c.pager.BatchedIn(ctx, docstore.CollectionPosts, "author_id", authorIDs, cursor, limit)
	if err != nil {
		return nil, err
	}
	posts := make([]*models.Post, 0, len(page.Items))
	for _, doc := range page.Items {
		p := &models.Post{}
		if err := doc.Decode(p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	snap, err := c.blocks.SnapshotFor(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	posts = blockfilter.FilterList(viewerID, posts, func(p *models.Post) string { return p.AuthorID }, snap)
	for _, p := range posts {
		p.Liked = p.LikedBy(viewerID)
	}

	c.reconcilePosts(replica.ViewFeed, gen, posts)
	return &PostPage{Posts: posts, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// CurrentPost returns a single post, or NOT_FOUND when it does not exist
// or its author is blocked from the viewer's perspective.
func (c *Coordinator) CurrentPost(ctx context.Context, viewerID, postID string) (*models.Post, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "current_post", postID)
	defer span.End()

	doc, err := c.store.Get(ctx, docstore.CollectionPosts, postID)
	if err != nil {
		return nil, err
	}
	p := &models.Post{}
	if err := doc.Decode(p); err != nil {
		return nil, err
	}

	snap, err := c.blocks.SnapshotFor(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if !blockfilter.IsVisible(viewerID, p.AuthorID, snap) {
		return nil, models.NewNotFoundError("post", postID)
	}

	p.Liked = p.LikedBy(viewerID)
	c.replicas.Put(replica.ViewCurrentPost, p)
	return p, nil
}

// CommentThread returns one page of a post's comments with one level of
// reply nesting. Comments from blocked authors are removed; their replies
// surface at the top level.
func (c *Coordinator) CommentThread(ctx context.Context, viewerID, postID string, cursor docstore.Cursor, limit int) (*CommentPage, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "comment_thread", postID)
	defer span.End()

	if limit <= 0 {
		limit = c.pageSize
	}
	viewName := replica.ViewComments(postID)
	gen := c.pageGen(viewName, cursor)

	q := docstore.Query{
		Collection: docstore.CollectionComments,
		Filter:     &docstore.Filter{Field: "post_id", Value: postID},
	}
	page, err := c.pager.FetchPage(ctx, q, cursor, limit)
	if err != nil {
		return nil, err
	}
	flat := make([]*models.Comment, 0, len(page.Items))
	for _, doc := range page.Items {
		cm := &models.Comment{}
		if err := doc.Decode(cm); err != nil {
			return nil, err
		}
		flat = append(flat, cm)
	}

	snap, err := c.blocks.SnapshotFor(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	flat = blockfilter.FilterList(viewerID, flat, func(cm *models.Comment) string { return cm.AuthorID }, snap)

	es := make([]models.Entity, len(flat))
	for i, cm := range flat {
		es[i] = cm
	}
	c.replicas.Reconcile(viewName, gen, es)

	return &CommentPage{
		Comments:   models.NestComments(flat),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}, nil
}

// Inbox returns one page of userID's notifications, newest first.
// Notifications from senders the user has since blocked are removed.
func (c *Coordinator) Inbox(ctx context.Context, userID string, cursor docstore.Cursor, limit int) (*NotificationPage, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "inbox", userID)
	defer span.End()

	if userID == "" {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	if limit <= 0 {
		limit = c.pageSize
	}
	gen := c.pageGen(replica.ViewInbox, cursor)

	q := docstore.Query{
		Collection: docstore.CollectionNotifications,
		Filter:     &docstore.Filter{Field: "recipient_id", Value: userID},
	}
	page, err := c.pager.FetchPage(ctx, q, cursor, limit)
	if err != nil {
		return nil, err
	}
	items := make([]*models.Notification, 0, len(page.Items))
	for _, doc := range page.Items {
		n := &models.Notification{}
		if err := doc.Decode(n); err != nil {
			return nil, err
		}
		items = append(items, n)
	}

	snap, err := c.blocks.SnapshotFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	items = blockfilter.FilterList(userID, items, func(n *models.Notification) string { return n.SenderID }, snap)

	es := make([]models.Entity, len(items))
	for i, n := range items {
		es[i] = n
	}
	c.replicas.Reconcile(replica.ViewInbox, gen, es)

	return &NotificationPage{Notifications: items, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// UnreadCount returns the number of unread notifications for userID. The
// count is cached briefly; mutations that change it invalidate the cache.
func (c *Coordinator) UnreadCount(ctx context.Context, userID string) (int, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "unread_count", userID)
	defer span.End()

	var count int
	err := cache.Aside(ctx, cache.UnreadCountKey(userID), &count, cache.UnreadCountTTL, func() error {
		var cursor docstore.Cursor
		for {
			res, err := c.store.Query(ctx, docstore.Query{
				Collection: docstore.CollectionNotifications,
				Filter:     &docstore.Filter{Field: "recipient_id", Value: userID},
				Limit:      c.pageSize,
				StartAfter: cursor,
			})
			if err != nil {
				return err
			}
			for _, doc := range res.Docs {
				n := &models.Notification{}
				if err := doc.Decode(n); err != nil {
					return err
				}
				if !n.Read {
					count++
				}
			}
			if len(res.Docs) < c.pageSize || res.NextCursor == "" {
				return nil
			}
			cursor = res.NextCursor
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
