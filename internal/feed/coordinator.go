// Package feed coordinates the interaction write paths: each mutation is
// applied optimistically to the local replica views, committed to the
// document store under optimistic concurrency, then confirmed with the
// store's authoritative result or rolled back on failure.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"kindred/internal/cache"
	"kindred/internal/docstore"
	"kindred/internal/fanout"
	"kindred/internal/models"
	"kindred/internal/observability"
	"kindred/internal/pager"
	"kindred/internal/profile"
	"kindred/internal/replica"
)

// DefaultPageSize is used when a read path is called with limit <= 0.
const DefaultPageSize = 20

// Coordinator owns the replica views and drives every read and write
// against the document store. All methods are safe for concurrent use.
type Coordinator struct {
	store    docstore.Store
	replicas *replica.Set
	ledger   *replica.Ledger
	blocks   profile.BlockSource
	fanout   *fanout.Fanout
	pager    *pager.Pager
	pageSize int
	log      *slog.Logger
}

// New wires a coordinator over the given store, block source and fanout.
func New(store docstore.Store, blocks profile.BlockSource, fan *fanout.Fanout, pageSize int) *Coordinator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	log := observability.Logger.With("component", "feed")
	set := replica.NewSet(log)
	return &Coordinator{
		store:    store,
		replicas: set,
		ledger:   replica.NewLedger(set, log),
		blocks:   blocks,
		fanout:   fan,
		pager:    pager.New(store),
		pageSize: pageSize,
		log:      log,
	}
}

// Replicas exposes the replica set for handlers that serve local reads.
func (c *Coordinator) Replicas() *replica.Set { return c.replicas }

// PendingMutations reports unresolved optimistic updates, for health checks.
func (c *Coordinator) PendingMutations() int { return c.ledger.PendingCount() }

// CreatePost validates and stores a new post authored by authorID.
func (c *Coordinator) CreatePost(ctx context.Context, authorID string, p *models.Post) (*models.Post, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "create_post", "")
	defer span.End()

	if authorID == "" {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	if !p.ContentType.Valid() {
		return nil, models.NewValidationError("unknown content type")
	}
	if p.ContentType != models.ContentTypeText && p.ContentRef == "" {
		return nil, models.NewValidationError("content_ref is required for non-text posts")
	}
	if p.ContentType == models.ContentTypeText && strings.TrimSpace(p.Caption) == "" {
		return nil, models.NewValidationError("text posts require a caption")
	}

	p.ID = uuid.NewString()
	p.AuthorID = authorID
	p.LikeIDs = []string{}
	p.LikeCount = 0
	p.CommentCount = 0
	p.CreatedAt = time.Now().UTC()
	p.Version = 0

	doc, err := c.store.Create(ctx, docstore.CollectionPosts, p.ID, p)
	if err != nil {
		return nil, err
	}
	created := &models.Post{}
	if err := doc.Decode(created); err != nil {
		return nil, err
	}

	c.replicas.Put(replica.ViewFeed, created)
	c.replicas.Put(replica.ViewAuthorPosts(authorID), created)
	c.log.InfoContext(ctx, "post created", "post_id", created.ID, "author_id", authorID)
	return created, nil
}

// ToggleLike flips viewerID's like on a post. The flip is applied to the
// local views immediately, then resolved against the store: the transaction
// re-reads the post on every attempt, so the committed direction follows the
// store's state even when it disagrees with the optimistic guess.
func (c *Coordinator) ToggleLike(ctx context.Context, viewerID, postID string) (*models.Post, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "toggle_like", postID)
	defer span.End()

	if viewerID == "" {
		return nil, models.NewUnauthorizedError("authentication required")
	}

	local, err := c.localPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	forward := replica.Delta{EntityID: postID, Kind: replica.DeltaLike, ActorID: viewerID}
	inverse := replica.Delta{EntityID: postID, Kind: replica.DeltaUnlike, ActorID: viewerID}
	if local.LikedBy(viewerID) {
		forward, inverse = inverse, forward
	}
	m := c.ledger.Begin(forward, inverse)

	refs := []docstore.Ref{{Collection: docstore.CollectionPosts, ID: postID}}
	err = c.store.RunTransaction(ctx, refs, func(tx docstore.Tx) error {
		doc, err := tx.Get(docstore.CollectionPosts, postID)
		if err != nil {
			return err
		}
		current := &models.Post{}
		if err := doc.Decode(current); err != nil {
			return err
		}
		if current.LikedBy(viewerID) {
			return tx.Update(docstore.CollectionPosts, postID,
				docstore.ArrayRemove("like_ids", viewerID),
				docstore.Set("like_count", len(current.LikeIDs)-1),
			)
		}
		return tx.Update(docstore.CollectionPosts, postID,
			docstore.ArrayUnion("like_ids", viewerID),
			docstore.Set("like_count", len(current.LikeIDs)+1),
		)
	})
	if err != nil {
		c.ledger.Rollback(m)
		return nil, err
	}

	committed, err := c.confirmPost(ctx, m, postID)
	if err != nil {
		return nil, err
	}

	if committed.LikedBy(viewerID) && committed.AuthorID != viewerID {
		if err := c.fanout.Notify(ctx, committed.AuthorID, viewerID, models.NotificationLike, committed.ID); err != nil {
			c.log.WarnContext(ctx, "like notification failed", "post_id", postID, "error", err)
		}
	}
	committed.Liked = committed.LikedBy(viewerID)
	return committed, nil
}

// AddComment stores a comment and bumps the post's comment count in one
// atomic commit. Replies nest one level deep: a reply to a reply is
// attached to the thread's top-level comment.
func (c *Coordinator) AddComment(ctx context.Context, authorID string, cm *models.Comment) (*models.Comment, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "add_comment", cm.PostID)
	defer span.End()

	if authorID == "" {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	cm.Text = strings.TrimSpace(cm.Text)
	if cm.Text == "" {
		return nil, models.NewValidationError("comment text is required")
	}
	if utf8.RuneCountInString(cm.Text) > models.MaxCommentLen {
		return nil, models.NewValidationError("comment text exceeds the length limit")
	}
	if cm.PostID == "" {
		return nil, models.NewValidationError("post id is required")
	}

	if cm.ParentCommentID != "" {
		parentDoc, err := c.store.Get(ctx, docstore.CollectionComments, cm.ParentCommentID)
		if err != nil {
			return nil, err
		}
		parent := &models.Comment{}
		if err := parentDoc.Decode(parent); err != nil {
			return nil, err
		}
		if parent.PostID != cm.PostID {
			return nil, models.NewValidationError("parent comment belongs to a different post")
		}
		if parent.ParentCommentID != "" {
			cm.ParentCommentID = parent.ParentCommentID
		}
	}

	cm.ID = uuid.NewString()
	cm.AuthorID = authorID
	cm.CreatedAt = time.Now().UTC()
	cm.EditedAt = nil
	cm.Version = 0
	cm.Replies = nil

	// Optimistic side: provisional comment in the thread view plus a
	// count bump on every view holding the post.
	c.replicas.Put(replica.ViewComments(cm.PostID), cm)
	m := c.ledger.Begin(
		replica.Delta{EntityID: cm.PostID, Kind: replica.DeltaCommentCount, CountDelta: 1},
		replica.Delta{EntityID: cm.PostID, Kind: replica.DeltaCommentCount, CountDelta: -1},
	)

	refs := []docstore.Ref{
		{Collection: docstore.CollectionPosts, ID: cm.PostID},
		{Collection: docstore.CollectionComments, ID: cm.ID},
	}
	err := c.store.RunTransaction(ctx, refs, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.CollectionPosts, cm.PostID); err != nil {
			return err
		}
		if err := tx.Set(docstore.CollectionComments, cm.ID, cm); err != nil {
			return err
		}
		return tx.Update(docstore.CollectionPosts, cm.PostID, docstore.Increment("comment_count", 1))
	})
	if err != nil {
		c.ledger.Rollback(m)
		c.replicas.RemoveComment(cm.ID)
		return nil, err
	}

	post, err := c.confirmPost(ctx, m, cm.PostID)
	if err != nil {
		return nil, err
	}

	commentDoc, err := c.store.Get(ctx, docstore.CollectionComments, cm.ID)
	if err != nil {
		return nil, err
	}
	committed := &models.Comment{}
	if err := commentDoc.Decode(committed); err != nil {
		return nil, err
	}
	c.replicas.Put(replica.ViewComments(committed.PostID), committed)

	if post.AuthorID != authorID {
		if err := c.fanout.Notify(ctx, post.AuthorID, authorID, models.NotificationComment, committed.ID); err != nil {
			c.log.WarnContext(ctx, "comment notification failed", "comment_id", committed.ID, "error", err)
		}
	}
	return committed, nil
}

// EditComment replaces a comment's text. Only the author may edit.
func (c *Coordinator) EditComment(ctx context.Context, editorID, commentID, text string) (*models.Comment, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "edit_comment", commentID)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewValidationError("comment text is required")
	}
	if utf8.RuneCountInString(text) > models.MaxCommentLen {
		return nil, models.NewValidationError("comment text exceeds the length limit")
	}

	doc, err := c.store.Get(ctx, docstore.CollectionComments, commentID)
	if err != nil {
		return nil, err
	}
	existing := &models.Comment{}
	if err := doc.Decode(existing); err != nil {
		return nil, err
	}
	if existing.AuthorID != editorID {
		return nil, models.NewUnauthorizedError("only the author may edit a comment")
	}

	now := time.Now().UTC()
	m := c.ledger.Begin(
		replica.Delta{EntityID: commentID, Kind: replica.DeltaEdit, Text: text, EditedAt: &now},
		replica.Delta{EntityID: commentID, Kind: replica.DeltaEdit, Text: existing.Text, EditedAt: existing.EditedAt},
	)

	updated, err := c.store.Update(ctx, docstore.CollectionComments, commentID,
		docstore.Set("text", text),
		docstore.Set("edited_at", now.Format(time.RFC3339Nano)),
	)
	if err != nil {
		c.ledger.Rollback(m)
		return nil, err
	}

	committed := &models.Comment{}
	if err := updated.Decode(committed); err != nil {
		return nil, err
	}
	c.ledger.Confirm(m, replica.Delta{
		EntityID: commentID,
		Version:  committed.Version,
		Kind:     replica.DeltaReplace,
		Entity:   committed,
	})
	return committed, nil
}

// DeleteComment removes a comment and decrements the post's count. The
// author or the post's author may delete. A comment that is already gone
// is treated as deleted.
func (c *Coordinator) DeleteComment(ctx context.Context, requesterID, commentID string) error {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "delete_comment", commentID)
	defer span.End()

	doc, err := c.store.Get(ctx, docstore.CollectionComments, commentID)
	if models.IsNotFound(err) {
		c.replicas.RemoveComment(commentID)
		return nil
	}
	if err != nil {
		return err
	}
	cm := &models.Comment{}
	if err := doc.Decode(cm); err != nil {
		return err
	}

	if requesterID != cm.AuthorID {
		postDoc, err := c.store.Get(ctx, docstore.CollectionPosts, cm.PostID)
		if err != nil {
			return err
		}
		post := &models.Post{}
		if err := postDoc.Decode(post); err != nil {
			return err
		}
		if requesterID != post.AuthorID {
			return models.NewUnauthorizedError("only the comment author or post author may delete")
		}
	}

	m := c.ledger.Begin(
		replica.Delta{EntityID: cm.PostID, Kind: replica.DeltaCommentCount, CountDelta: -1},
		replica.Delta{EntityID: cm.PostID, Kind: replica.DeltaCommentCount, CountDelta: 1},
	)

	refs := []docstore.Ref{
		{Collection: docstore.CollectionPosts, ID: cm.PostID},
		{Collection: docstore.CollectionComments, ID: commentID},
	}
	err = c.store.RunTransaction(ctx, refs, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.CollectionComments, commentID); err != nil {
			return err
		}
		if err := tx.Delete(docstore.CollectionComments, commentID); err != nil {
			return err
		}
		return tx.Update(docstore.CollectionPosts, cm.PostID, docstore.IncrementFloored("comment_count", -1))
	})
	if err != nil {
		if models.IsNotFound(err) {
			// Lost the race to another deleter; the count was already
			// adjusted by whoever won.
			c.ledger.Rollback(m)
			c.replicas.RemoveComment(commentID)
			return nil
		}
		c.ledger.Rollback(m)
		return err
	}

	if _, err := c.confirmPost(ctx, m, cm.PostID); err != nil {
		return err
	}
	c.replicas.RemoveComment(commentID)
	return nil
}

// DeletePost removes a post and all of its comments in one atomic commit.
// Only the author may delete.
func (c *Coordinator) DeletePost(ctx context.Context, requesterID, postID string) error {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "delete_post", postID)
	defer span.End()

	doc, err := c.store.Get(ctx, docstore.CollectionPosts, postID)
	if err != nil {
		return err
	}
	post := &models.Post{}
	if err := doc.Decode(post); err != nil {
		return err
	}
	if post.AuthorID != requesterID {
		return models.NewUnauthorizedError("only the author may delete a post")
	}

	commentIDs, err := c.allCommentIDs(ctx, postID)
	if err != nil {
		return err
	}

	err = c.store.RunBatch(ctx, func(b docstore.Batch) error {
		b.Delete(docstore.CollectionPosts, postID)
		for _, id := range commentIDs {
			b.Delete(docstore.CollectionComments, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	removed := len(commentIDs)

	// Sweep comments that committed between the id listing and the batch;
	// without it they would survive as permanent orphans of a dead post.
	for attempt := 0; attempt < 3; attempt++ {
		leftovers, err := c.allCommentIDs(ctx, postID)
		if err != nil {
			return err
		}
		if len(leftovers) == 0 {
			break
		}
		err = c.store.RunBatch(ctx, func(b docstore.Batch) error {
			for _, id := range leftovers {
				b.Delete(docstore.CollectionComments, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		removed += len(leftovers)
	}

	c.replicas.RemovePost(postID)
	c.log.InfoContext(ctx, "post deleted", "post_id", postID, "comments_removed", removed)
	return nil
}

// MarkNotificationRead marks one of userID's notifications as read. A
// notification belonging to someone else is reported as not found.
func (c *Coordinator) MarkNotificationRead(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "mark_notification_read", notificationID)
	defer span.End()

	doc, err := c.store.Get(ctx, docstore.CollectionNotifications, notificationID)
	if err != nil {
		return nil, err
	}
	existing := &models.Notification{}
	if err := doc.Decode(existing); err != nil {
		return nil, err
	}
	if existing.RecipientID != userID {
		return nil, models.NewNotFoundError("notification", notificationID)
	}

	m := c.ledger.Begin(
		replica.Delta{EntityID: notificationID, Kind: replica.DeltaRead},
		replica.Delta{EntityID: notificationID, Kind: replica.DeltaReplace, Entity: existing.Clone()},
	)

	updated, err := c.store.Update(ctx, docstore.CollectionNotifications, notificationID,
		docstore.Set("read", true),
	)
	if err != nil {
		c.ledger.Rollback(m)
		return nil, err
	}

	committed := &models.Notification{}
	if err := updated.Decode(committed); err != nil {
		return nil, err
	}
	c.ledger.Confirm(m, replica.Delta{
		EntityID: notificationID,
		Version:  committed.Version,
		Kind:     replica.DeltaReplace,
		Entity:   committed,
	})
	cache.InvalidateUnreadCount(ctx, userID)
	return committed, nil
}

// localPost returns the replica copy of a post, fetching and caching it in
// the current-post view when no view holds it yet.
func (c *Coordinator) localPost(ctx context.Context, postID string) (*models.Post, error) {
	if e, ok := c.replicas.Lookup(postID); ok {
		if p, ok := e.(*models.Post); ok {
			return p, nil
		}
	}
	doc, err := c.store.Get(ctx, docstore.CollectionPosts, postID)
	if err != nil {
		return nil, err
	}
	p := &models.Post{}
	if err := doc.Decode(p); err != nil {
		return nil, err
	}
	c.replicas.Put(replica.ViewCurrentPost, p)
	return p, nil
}

// confirmPost fetches the committed post and resolves the mutation with it.
// A post deleted between commit and fetch confirms as a removal.
func (c *Coordinator) confirmPost(ctx context.Context, m *replica.Mutation, postID string) (*models.Post, error) {
	doc, err := c.store.Get(ctx, docstore.CollectionPosts, postID)
	if models.IsNotFound(err) {
		c.ledger.ConfirmRemoval(m)
		c.replicas.RemovePost(postID)
		return nil, err
	}
	if err != nil {
		// The write committed; the confirmation fetch failing leaves the
		// optimistic value in place rather than rolling back a success.
		c.ledger.ConfirmRemoval(m)
		return nil, err
	}
	committed := &models.Post{}
	if err := doc.Decode(committed); err != nil {
		return nil, err
	}
	c.ledger.Confirm(m, replica.Delta{
		EntityID: postID,
		Version:  committed.Version,
		Kind:     replica.DeltaReplace,
		Entity:   committed,
	})
	return committed, nil
}

// allCommentIDs walks the full comment list for a post.
func (c *Coordinator) allCommentIDs(ctx context.Context, postID string) ([]string, error) {
	var ids []string
	var cursor docstore.Cursor
	for {
		res, err := c.store.Query(ctx, docstore.Query{
			Collection: docstore.CollectionComments,
			Filter:     &docstore.Filter{Field: "post_id", Value: postID},
			Limit:      c.pageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, d := range res.Docs {
			ids = append(ids, d.ID)
		}
		if len(res.Docs) < c.pageSize || res.NextCursor == "" {
			return ids, nil
		}
		cursor = res.NextCursor
	}
}
