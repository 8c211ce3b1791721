// Package seed populates the document store with demo data for local
// development: a mesh of users, posts with likes and comment threads, and
// the notifications those interactions produce.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"kindred/internal/docstore"
	"kindred/internal/models"
)

// Options control how much demo data the seeder generates.
type Options struct {
	Users    int
	Posts    int
	MaxLikes int // per post
	Comments int // per post, upper bound
}

// DefaultOptions is sized for a usable local feed.
func DefaultOptions() Options {
	return Options{Users: 25, Posts: 100, MaxLikes: 10, Comments: 4}
}

// User is a generated demo identity. Users live in the profile service, so
// the seeder only fabricates the denormalized fields posts carry.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Seeder writes demo data through the document store so every invariant the
// store maintains (versions, indexes) holds for seeded data too.
type Seeder struct {
	store docstore.Store
}

// NewSeeder creates a seeder over the given store.
func NewSeeder(store docstore.Store) *Seeder {
	gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{store: store}
}

// Run generates users, posts, likes, comments and notifications.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	users := s.makeUsers(opts.Users)
	log.Printf("Seeding %d posts across %d users...", opts.Posts, opts.Users)

	for i := 0; i < opts.Posts; i++ {
		author := users[rand.Intn(len(users))]
		post, err := s.createPost(ctx, author)
		if err != nil {
			return fmt.Errorf("seed post %d: %w", i, err)
		}

		if err := s.addLikes(ctx, post, users, rand.Intn(opts.MaxLikes+1)); err != nil {
			return fmt.Errorf("seed likes for %s: %w", post.ID, err)
		}
		if err := s.addComments(ctx, post, author, users, rand.Intn(opts.Comments+1)); err != nil {
			return fmt.Errorf("seed comments for %s: %w", post.ID, err)
		}
	}

	log.Println("Seeding complete")
	return nil
}

func (s *Seeder) makeUsers(n int) []User {
	users := make([]User, n)
	for i := range users {
		users[i] = User{
			ID:          uuid.NewString(),
			DisplayName: gofakeit.Name(),
			AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
		}
	}
	return users
}

func (s *Seeder) createPost(ctx context.Context, author User) (*models.Post, error) {
	contentTypes := []models.ContentType{
		models.ContentTypeImage, models.ContentTypeText,
		models.ContentTypeLink, models.ContentTypeVideo,
	}
	ct := contentTypes[rand.Intn(len(contentTypes))]

	post := &models.Post{
		ID:                uuid.NewString(),
		AuthorID:          author.ID,
		AuthorDisplayName: author.DisplayName,
		AuthorAvatarURL:   author.AvatarURL,
		ContentType:       ct,
		Caption:           gofakeit.Sentence(8),
		LikeIDs:           []string{},
		CreatedAt:         time.Now().UTC().Add(-time.Duration(rand.Intn(72)) * time.Hour),
	}
	switch ct {
	case models.ContentTypeImage:
		post.ContentRef = fmt.Sprintf("https://picsum.photos/seed/%s/800/800", gofakeit.UUID())
	case models.ContentTypeVideo:
		post.ContentRef = fmt.Sprintf("https://videos.example.com/%s.mp4", gofakeit.UUID())
	case models.ContentTypeLink:
		post.ContentRef = gofakeit.URL()
	}

	doc, err := s.store.Create(ctx, docstore.CollectionPosts, post.ID, post)
	if err != nil {
		return nil, err
	}
	created := &models.Post{}
	if err := doc.Decode(created); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Seeder) addLikes(ctx context.Context, post *models.Post, users []User, n int) error {
	likers := pick(users, n, post.AuthorID)
	for _, u := range likers {
		_, err := s.store.Update(ctx, docstore.CollectionPosts, post.ID,
			docstore.ArrayUnion("like_ids", u.ID),
			docstore.Increment("like_count", 1),
		)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, post.AuthorID, u.ID, models.NotificationLike, post.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) addComments(ctx context.Context, post *models.Post, author User, users []User, n int) error {
	var lastTopLevel string
	for i := 0; i < n; i++ {
		commenter := users[rand.Intn(len(users))]
		cm := &models.Comment{
			ID:        uuid.NewString(),
			PostID:    post.ID,
			AuthorID:  commenter.ID,
			Text:      gofakeit.Sentence(10),
			CreatedAt: time.Now().UTC(),
		}
		// Occasionally nest a reply one level under an earlier comment.
		if lastTopLevel != "" && rand.Intn(3) == 0 {
			cm.ParentCommentID = lastTopLevel
		} else {
			lastTopLevel = cm.ID
		}

		if _, err := s.store.Create(ctx, docstore.CollectionComments, cm.ID, cm); err != nil {
			return err
		}
		if _, err := s.store.Update(ctx, docstore.CollectionPosts, post.ID,
			docstore.Increment("comment_count", 1),
		); err != nil {
			return err
		}
		if commenter.ID != author.ID {
			if err := s.notify(ctx, author.ID, commenter.ID, models.NotificationComment, cm.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Seeder) notify(ctx context.Context, recipientID, senderID string, kind models.NotificationKind, subjectRef string) error {
	n := &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Kind:        kind,
		SubjectRef:  subjectRef,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.store.Create(ctx, docstore.CollectionNotifications, n.ID, n)
	return err
}

// pick selects up to n distinct users, skipping excludeID.
func pick(users []User, n int, excludeID string) []User {
	idx := rand.Perm(len(users))
	out := make([]User, 0, n)
	for _, i := range idx {
		if len(out) == n {
			break
		}
		if users[i].ID == excludeID {
			continue
		}
		out = append(out, users[i])
	}
	return out
}
