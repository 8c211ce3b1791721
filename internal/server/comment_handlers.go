package server

import (
	"kindred/internal/middleware"
	"kindred/internal/models"

	"github.com/gofiber/fiber/v2"
)

// CreateCommentRequest is the body for POST /api/posts/:id/comments.
type CreateCommentRequest struct {
	Text            string `json:"text"`
	ParentCommentID string `json:"parent_comment_id"`
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID := c.Params("id")
	if postID == "" {
		return respondWithError(c, models.NewValidationError("Invalid post ID"))
	}

	var req CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}

	comment, err := s.coordinator.AddComment(c.UserContext(), middleware.UserID(c), &models.Comment{
		PostID:          postID,
		Text:            req.Text,
		ParentCommentID: req.ParentCommentID,
	})
	if err != nil {
		return respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// GetComments handles GET /api/posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID := c.Params("id")
	if postID == "" {
		return respondWithError(c, models.NewValidationError("Invalid post ID"))
	}

	limit, cursor := s.parsePage(c)
	page, err := s.coordinator.CommentThread(c.UserContext(), middleware.UserID(c), postID, cursor, limit)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(page)
}

// UpdateCommentRequest is the body for PUT /api/comments/:id.
type UpdateCommentRequest struct {
	Text string `json:"text"`
}

// UpdateComment handles PUT /api/comments/:id
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	commentID := c.Params("id")
	if commentID == "" {
		return respondWithError(c, models.NewValidationError("Invalid comment ID"))
	}

	var req UpdateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return respondWithError(c, models.NewValidationError("Invalid request body"))
	}

	comment, err := s.coordinator.EditComment(c.UserContext(), middleware.UserID(c), commentID, req.Text)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:id
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	commentID := c.Params("id")
	if commentID == "" {
		return respondWithError(c, models.NewValidationError("Invalid comment ID"))
	}

	if err := s.coordinator.DeleteComment(c.UserContext(), middleware.UserID(c), commentID); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
