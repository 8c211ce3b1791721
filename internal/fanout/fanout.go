// Package fanout delivers interaction notifications. Delivery is two-step:
// a durable notification document written to the store, then a best-effort
// push over pub/sub for connected clients. The push may be lost; the inbox
// read path is the source of truth.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kindred/internal/cache"
	"kindred/internal/docstore"
	"kindred/internal/models"
	"kindred/internal/observability"
	"kindred/internal/profile"
)

// Publisher pushes a serialized notification to a channel. Implementations
// must not block on slow consumers; errors are logged, never surfaced.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Fanout writes notifications for likes, comments, follows and mentions,
// suppressing self-notifications and deliveries across a block.
type Fanout struct {
	store     docstore.Store
	blocks    profile.BlockSource
	publisher Publisher
	pushGate  func(userID string) bool
	log       *slog.Logger
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithPushGate installs a per-recipient predicate deciding whether the
// pub/sub push is attempted. The durable notification record is written
// either way.
func WithPushGate(gate func(userID string) bool) Option {
	return func(f *Fanout) { f.pushGate = gate }
}

func New(store docstore.Store, blocks profile.BlockSource, publisher Publisher, opts ...Option) *Fanout {
	f := &Fanout{
		store:     store,
		blocks:    blocks,
		publisher: publisher,
		log:       observability.Logger.With("component", "fanout"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Notify records a notification for recipientID about senderID's action.
// Self-notifications and notifications across a block in either direction
// are silently dropped. A pub/sub delivery failure does not fail the call.
func (f *Fanout) Notify(ctx context.Context, recipientID, senderID string, kind models.NotificationKind, subjectRef string) error {
	ctx, span := observability.TraceCoordinatorOperation(ctx, "fanout.notify", subjectRef)
	defer span.End()

	if !kind.Valid() {
		return models.NewValidationError("unknown notification kind")
	}
	if recipientID == senderID {
		observability.FanoutSuppressed.WithLabelValues("self").Inc()
		return nil
	}

	suppressed, err := f.blockedEitherWay(ctx, recipientID, senderID)
	if err != nil {
		// Fail open on snapshot errors would leak across blocks, so we
		// fail the notification instead. The interaction that triggered
		// it has already committed.
		return err
	}
	if suppressed {
		observability.FanoutSuppressed.WithLabelValues("blocked").Inc()
		return nil
	}

	n := models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Kind:        kind,
		SubjectRef:  subjectRef,
		Read:        false,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := f.store.Create(ctx, docstore.CollectionNotifications, n.ID, &n); err != nil {
		return err
	}
	observability.FanoutNotifications.WithLabelValues(string(kind)).Inc()
	cache.InvalidateUnreadCount(ctx, recipientID)

	if f.publisher != nil && (f.pushGate == nil || f.pushGate(recipientID)) {
		if err := f.publisher.Publish(ctx, UserChannel(recipientID), &n); err != nil {
			f.log.WarnContext(ctx, "notification push failed",
				"recipient_id", recipientID, "kind", kind, "error", err)
		}
	}
	return nil
}

func (f *Fanout) blockedEitherWay(ctx context.Context, recipientID, senderID string) (bool, error) {
	recipientBlocks, err := f.blocks.SnapshotFor(ctx, recipientID)
	if err != nil {
		return false, err
	}
	if recipientBlocks.Blocked(senderID) {
		return true, nil
	}
	senderBlocks, err := f.blocks.SnapshotFor(ctx, senderID)
	if err != nil {
		return false, err
	}
	return senderBlocks.Blocked(recipientID), nil
}
