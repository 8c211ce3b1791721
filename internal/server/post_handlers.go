package server

import (
	"kindred/internal/middleware"
	"kindred/internal/models"

	"github.com/gofiber/fiber/v2"
)

// CreatePostRequest is the body for POST /api/posts.
type CreatePostRequest struct {
	ContentType       string `json:"content_type"`
	ContentRef        string `json:"content_ref"`
	Caption           string `json:"caption"`
	AuthorDisplayName string `json:"author_display_name"`
	AuthorAvatarURL   string `json:"author_avatar_url"`
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req CreatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}

	post, err := s.coordinator.CreatePost(c.UserContext(), userID, &models.Post{
		ContentType:       models.ContentType(req.ContentType),
		ContentRef:        req.ContentRef,
		Caption:           req.Caption,
		AuthorDisplayName: req.AuthorDisplayName,
		AuthorAvatarURL:   req.AuthorAvatarURL,
	})
	if err != nil {
		return respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetFeed handles GET /api/feed
func (s *Server) GetFeed(c *fiber.Ctx) error {
	limit, cursor := s.parsePage(c)

	page, err := s.coordinator.FeedPage(c.UserContext(), middleware.UserID(c), cursor, limit)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(page)
}

// PostsByAuthorsRequest is the body for POST /api/feed/authors. The author
// list may exceed the store's membership-predicate cap; the read splits it.
type PostsByAuthorsRequest struct {
	AuthorIDs []string `json:"author_ids"`
}

// GetPostsByAuthors handles POST /api/feed/authors
func (s *Server) GetPostsByAuthors(c *fiber.Ctx) error {
	var req PostsByAuthorsRequest
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}
	if len(req.AuthorIDs) == 0 {
		return respondWithError(c, models.NewValidationError("author_ids is required"))
	}

	limit, cursor := s.parsePage(c)
	page, err := s.coordinator.PostsByAuthors(c.UserContext(), middleware.UserID(c), req.AuthorIDs, cursor, limit)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(page)
}

// GetUserPosts handles GET /api/users/:id/posts
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	authorID := c.Params("id")
	if authorID == "" {
		return respondWithError(c, models.NewValidationError("Invalid user ID"))
	}

	limit, cursor := s.parsePage(c)
	page, err := s.coordinator.AuthorPosts(c.UserContext(), middleware.UserID(c), authorID, cursor, limit)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(page)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	postID := c.Params("id")
	if postID == "" {
		return respondWithError(c, models.NewValidationError("Invalid post ID"))
	}

	post, err := s.coordinator.CurrentPost(c.UserContext(), middleware.UserID(c), postID)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(post)
}

// ToggleLike handles POST /api/posts/:id/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	postID := c.Params("id")
	if postID == "" {
		return respondWithError(c, models.NewValidationError("Invalid post ID"))
	}

	post, err := s.coordinator.ToggleLike(c.UserContext(), middleware.UserID(c), postID)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(fiber.Map{
		"liked":      post.Liked,
		"like_count": post.LikeCount,
		"post":       post,
	})
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	postID := c.Params("id")
	if postID == "" {
		return respondWithError(c, models.NewValidationError("Invalid post ID"))
	}

	if err := s.coordinator.DeletePost(c.UserContext(), middleware.UserID(c), postID); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
