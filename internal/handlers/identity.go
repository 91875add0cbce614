package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"trace-service/internal/models"
)

// Headers set by the upstream authentication layer.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

const viewerKey = "viewer"

// IdentityMiddleware reads the caller identity from the auth headers. Requests
// without them are anonymous.
func IdentityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(HeaderUserID)
		if raw == "" {
			return c.Next()
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": true, "message": "invalid " + HeaderUserID + " header",
			})
		}
		c.Locals(viewerKey, &models.Identity{ID: id, DisplayName: c.Get(HeaderUserName)})
		return c.Next()
	}
}

// Viewer returns the caller identity, or nil for anonymous requests.
func Viewer(c *fiber.Ctx) *models.Identity {
	viewer, _ := c.Locals(viewerKey).(*models.Identity)
	return viewer
}
