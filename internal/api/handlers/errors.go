package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/experiment"
	"github.com/web-chatbot/backend/internal/extract"
	"github.com/web-chatbot/backend/internal/ingestion"
	"github.com/web-chatbot/backend/internal/registry"
	"github.com/web-chatbot/backend/internal/session"
	"github.com/web-chatbot/backend/pkg/logger"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var cfgErr *registry.ConfigError
	var decodeErr *experiment.DecodeError

	switch {
	case errors.As(err, &cfgErr):
		return fiber.StatusBadRequest
	case errors.Is(err, extract.ErrInvalidURL):
		return fiber.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, experiment.ErrExperimentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrNoText),
		errors.Is(err, session.ErrNoIndex),
		errors.Is(err, session.ErrNoExperiment),
		errors.Is(err, experiment.ErrKeyCollision),
		errors.Is(err, experiment.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, extract.ErrBadStatus),
		errors.Is(err, extract.ErrNoContent),
		errors.Is(err, extract.ErrInvalidPDF),
		errors.Is(err, ingestion.ErrEmptyText):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &decodeErr):
		return fiber.StatusInternalServerError
	case errors.Is(err, experiment.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, msg string, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.String("path", c.Path()), zap.Error(err))
	} else {
		logger.Debug(msg, zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   msg,
		"details": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
