package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/chat"
	"github.com/paperlens/backend/internal/history"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/session"
	"github.com/paperlens/backend/pkg/logger"
)

// respondError writes err as {"error", "category"}. Domain errors keep their
// own text; model failures are replaced by a user-facing message.
func respondError(c *fiber.Ctx, err error) error {
	status, msg, category := describe(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("category", category),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{
		"error":    msg,
		"category": category,
	})
}

func describe(err error) (int, string, string) {
	switch {
	case errors.Is(err, session.ErrNoDocument):
		return fiber.StatusNotFound, "No paper is open. Upload a paper first.", "no_document"
	case errors.Is(err, history.ErrNotFound):
		return fiber.StatusNotFound, "That paper is not in your history.", "not_found"
	case errors.Is(err, session.ErrTabLoading), errors.Is(err, chat.ErrBusy):
		return fiber.StatusConflict, "That request is already in progress.", "in_progress"
	case errors.Is(err, session.ErrStaleSession):
		return fiber.StatusConflict, err.Error(), "stale"
	case errors.Is(err, analysis.ErrTooFewPapers),
		errors.Is(err, analysis.ErrMissingCaption),
		errors.Is(err, analysis.ErrCoreRequired),
		errors.Is(err, analysis.ErrEmptyDocument),
		errors.Is(err, analysis.ErrNothingToPresent),
		errors.Is(err, chat.ErrEmptyInput):
		return fiber.StatusBadRequest, capitalize(err.Error()), "invalid"
	}

	category := llm.Classify(err)
	status := fiber.StatusInternalServerError
	switch category {
	case llm.CategoryQuota:
		status = fiber.StatusTooManyRequests
	case llm.CategoryBusy:
		status = fiber.StatusServiceUnavailable
	case llm.CategoryTooLong:
		status = fiber.StatusRequestEntityTooLarge
	}
	return status, llm.UserMessage(err), string(category)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b) + "."
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":    msg,
		"category": "invalid",
	})
}

// view strips the full text from an analysis sent to clients.
func view(a *analysis.Analysis) *analysis.Analysis {
	if a == nil {
		return nil
	}
	out := a.Clone()
	out.FullText = ""
	return out
}
