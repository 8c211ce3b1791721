package server

import (
	"kindred/internal/middleware"
	"kindred/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	limit, cursor := s.parsePage(c)

	page, err := s.coordinator.Inbox(c.UserContext(), middleware.UserID(c), cursor, limit)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(page)
}

// GetUnreadCount handles GET /api/notifications/unread-count
func (s *Server) GetUnreadCount(c *fiber.Ctx) error {
	count, err := s.coordinator.UnreadCount(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(fiber.Map{"unread": count})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	notificationID := c.Params("id")
	if notificationID == "" {
		return respondWithError(c, models.NewValidationError("Invalid notification ID"))
	}

	n, err := s.coordinator.MarkNotificationRead(c.UserContext(), middleware.UserID(c), notificationID)
	if err != nil {
		return respondWithError(c, err)
	}
	return c.JSON(n)
}
