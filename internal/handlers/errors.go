package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"trace-service/internal/services"
)

const (
	InvalidUuidError   = "invalid UUID"
	TraceNotFoundError = "trace not found"
	UserNotFoundError  = "user not found"
	ForbiddenError     = "not allowed to modify this trace"
	StorageError       = "trace storage unavailable"
)

// writeError maps service error classes to HTTP statuses. Storage details are
// logged, not returned.
func writeError(c *fiber.Ctx, log *logrus.Logger, err error) error {
	entry := log.WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
		"ip":     c.IP(),
		"error":  err,
	})

	status, msg := fiber.StatusInternalServerError, StorageError
	switch {
	case services.ErrValidation.Has(err):
		status, msg = fiber.StatusBadRequest, err.Error()
	case services.ErrUserNotFound.Has(err):
		status, msg = fiber.StatusNotFound, UserNotFoundError
	case services.ErrNotFound.Has(err):
		status, msg = fiber.StatusNotFound, TraceNotFoundError
	case services.ErrForbidden.Has(err):
		status, msg = fiber.StatusForbidden, ForbiddenError
	}

	if status == fiber.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	return c.Status(status).JSON(fiber.Map{
		"error": true, "message": msg,
	})
}
