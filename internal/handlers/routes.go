package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
)

// RegisterRoutes mounts the trace API on app.
func RegisterRoutes(app *fiber.App, h *TraceHandler) {
	api := app.Group("/api", IdentityMiddleware())

	traces := api.Group("/traces")
	traces.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	traces.Get("/swagger/*", swagger.HandlerDefault)

	traces.Get("/", h.ListTraces)
	traces.Post("/", h.CreateTrace)
	traces.Get("/mine", h.ListMyTraces)
	traces.Get("/feed", h.Feed)
	traces.Get("/defaults", h.Defaults)
	traces.Get("/:id", h.GetTrace)
	traces.Put("/:id", h.UpdateTrace)
	traces.Delete("/:id", h.DeleteTrace)
	traces.Get("/:id/data", h.DownloadTrace)
	traces.Get("/:id/picture", h.Picture)
	traces.Get("/:id/icon", h.Icon)

	api.Get("/users/:display_name/traces", h.ListUserTraces)
}
