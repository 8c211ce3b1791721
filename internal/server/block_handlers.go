package server

import (
	"sort"

	"kindred/internal/middleware"
	"kindred/internal/models"

	"github.com/gofiber/fiber/v2"
)

// BlockUserRequest is the optional body for POST /api/blocks/:userId.
type BlockUserRequest struct {
	Reason string `json:"reason"`
}

// BlockUser handles POST /api/blocks/:userId
func (s *Server) BlockUser(c *fiber.Ctx) error {
	blockedID := c.Params("userId")
	if blockedID == "" {
		return respondWithError(c, models.NewValidationError("Invalid user ID"))
	}

	var req BlockUserRequest
	// Body is optional; ignore parse errors for an empty body.
	_ = c.BodyParser(&req)

	if err := s.blocks.Block(c.UserContext(), middleware.UserID(c), blockedID, req.Reason); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnblockUser handles DELETE /api/blocks/:userId
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	blockedID := c.Params("userId")
	if blockedID == "" {
		return respondWithError(c, models.NewValidationError("Invalid user ID"))
	}

	if err := s.blocks.Unblock(c.UserContext(), middleware.UserID(c), blockedID); err != nil {
		return respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetBlockedUsers handles GET /api/blocks
func (s *Server) GetBlockedUsers(c *fiber.Ctx) error {
	snap, err := s.blocks.SnapshotFor(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondWithError(c, err)
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return c.JSON(fiber.Map{"blocked_user_ids": ids})
}
