package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindred/internal/blockfilter"
	"kindred/internal/docstore"
	"kindred/internal/models"
	"kindred/internal/testutil"
)

type stubBlocks struct {
	byUser map[string][]string
	err    error
}

func (s *stubBlocks) SnapshotFor(ctx context.Context, viewerID string) (blockfilter.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return blockfilter.NewSnapshot(s.byUser[viewerID]), nil
}

func (s *stubBlocks) Block(ctx context.Context, blockerID, blockedID, reason string) error { return nil }

func (s *stubBlocks) Unblock(ctx context.Context, blockerID, blockedID string) error { return nil }

type capturingPublisher struct {
	channels []string
	err      error
}

func (p *capturingPublisher) Publish(ctx context.Context, channel string, payload any) error {
	p.channels = append(p.channels, channel)
	return p.err
}

func inboxFor(t *testing.T, store docstore.Store, userID string) []*models.Notification {
	t.Helper()
	res, err := store.Query(context.Background(), docstore.Query{
		Collection: docstore.CollectionNotifications,
		Filter:     &docstore.Filter{Field: "recipient_id", Value: userID},
		Limit:      50,
	})
	require.NoError(t, err)
	out := make([]*models.Notification, 0, len(res.Docs))
	for _, d := range res.Docs {
		n := &models.Notification{}
		require.NoError(t, d.Decode(n))
		out = append(out, n)
	}
	return out
}

func TestNotifyWritesRecordAndPushes(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	store := docstore.NewRedisStore(client)
	pub := &capturingPublisher{}
	f := New(store, &stubBlocks{}, pub)

	err := f.Notify(context.Background(), "alice", "bob", models.NotificationLike, "post-1")
	require.NoError(t, err)

	inbox := inboxFor(t, store, "alice")
	require.Len(t, inbox, 1)
	assert.Equal(t, "bob", inbox[0].SenderID)
	assert.Equal(t, models.NotificationLike, inbox[0].Kind)
	assert.Equal(t, "post-1", inbox[0].SubjectRef)
	assert.False(t, inbox[0].Read)

	assert.Equal(t, []string{UserChannel("alice")}, pub.channels)
}

func TestNotifySuppressesSelf(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	store := docstore.NewRedisStore(client)
	pub := &capturingPublisher{}
	f := New(store, &stubBlocks{}, pub)

	err := f.Notify(context.Background(), "alice", "alice", models.NotificationLike, "post-1")
	require.NoError(t, err)

	assert.Empty(t, inboxFor(t, store, "alice"))
	assert.Empty(t, pub.channels)
}

func TestNotifySuppressesAcrossBlockEitherWay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		byUser map[string][]string
	}{
		{name: "recipient blocked sender", byUser: map[string][]string{"alice": {"bob"}}},
		{name: "sender blocked recipient", byUser: map[string][]string{"bob": {"alice"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := testutil.NewRedis(t)
			store := docstore.NewRedisStore(client)
			pub := &capturingPublisher{}
			f := New(store, &stubBlocks{byUser: tt.byUser}, pub)

			err := f.Notify(context.Background(), "alice", "bob", models.NotificationComment, "comment-1")
			require.NoError(t, err)

			assert.Empty(t, inboxFor(t, store, "alice"))
			assert.Empty(t, pub.channels)
		})
	}
}

func TestNotifyRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	store := docstore.NewRedisStore(client)
	f := New(store, &stubBlocks{}, nil)

	err := f.Notify(context.Background(), "alice", "bob", models.NotificationKind("poke"), "x")
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestNotifyFailsWhenSnapshotUnavailable(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	store := docstore.NewRedisStore(client)
	f := New(store, &stubBlocks{err: errors.New("profile service down")}, nil)

	err := f.Notify(context.Background(), "alice", "bob", models.NotificationLike, "post-1")
	require.Error(t, err)
	assert.Empty(t, inboxFor(t, store, "alice"))
}

func TestNotifyPushGateSkipsPublishOnly(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	store := docstore.NewRedisStore(client)
	pub := &capturingPublisher{}
	f := New(store, &stubBlocks{}, pub, WithPushGate(func(userID string) bool { return false }))

	err := f.Notify(context.Background(), "alice", "bob", models.NotificationLike, "post-1")
	require.NoError(t, err)

	assert.Len(t, inboxFor(t, store, "alice"), 1, "the durable record is written regardless of the gate")
	assert.Empty(t, pub.channels)
}

func TestNotifyPublishFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	store := docstore.NewRedisStore(client)
	pub := &capturingPublisher{err: errors.New("broker hiccup")}
	f := New(store, &stubBlocks{}, pub)

	err := f.Notify(context.Background(), "alice", "bob", models.NotificationLike, "post-1")
	require.NoError(t, err)
	assert.Len(t, inboxFor(t, store, "alice"), 1)
}

func TestRedisPublisherDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	_, client := testutil.NewRedis(t)
	pub := NewRedisPublisher(client)

	sub := client.Subscribe(context.Background(), UserChannel("alice"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background()) // subscription confirmation
	require.NoError(t, err)

	n := &models.Notification{ID: "n1", RecipientID: "alice", SenderID: "bob", Kind: models.NotificationLike}
	require.NoError(t, pub.Publish(context.Background(), UserChannel("alice"), n))

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"sender_id":"bob"`)
}
