package server

import (
	"kindred/internal/docstore"

	"github.com/gofiber/fiber/v2"
)

const maxPaginationLimit = 100

// parsePage extracts the limit and cursor query parameters. A missing limit
// falls back to the configured page size; limits are capped so a client
// cannot request unbounded pages.
func (s *Server) parsePage(c *fiber.Ctx) (int, docstore.Cursor) {
	limit := c.QueryInt("limit", s.config.PageSize)
	if limit <= 0 {
		limit = s.config.PageSize
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}
	return limit, docstore.Cursor(c.Query("cursor"))
}
