package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/history"
)

// Tracker is the read side of the evaluation tracker.
type Tracker interface {
	Records() []evaluation.Record
	Statistics() evaluation.Statistics
	UserMetrics() evaluation.UserMetrics
	Increment(ctx context.Context, c evaluation.Counter) error
}

type EvaluationHandler struct {
	tracker Tracker
	history *history.Store
}

func NewEvaluationHandler(tracker Tracker, store *history.Store) *EvaluationHandler {
	return &EvaluationHandler{
		tracker: tracker,
		history: store,
	}
}

func (h *EvaluationHandler) List(c *fiber.Ctx) error {
	records := h.tracker.Records()
	if records == nil {
		records = []evaluation.Record{}
	}
	return c.JSON(fiber.Map{
		"evaluations": records,
		"statistics":  h.tracker.Statistics(),
	})
}

// Report returns the aggregate report as JSON, or as plain text with
// ?format=text.
func (h *EvaluationHandler) Report(c *fiber.Ctx) error {
	report := evaluation.GenerateReport(h.tracker.Records())

	if c.Query("format") == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(evaluation.RenderReport(report))
	}
	return c.JSON(report)
}

// Baseline compares one evaluation, the latest by default or the one named
// by ?fingerprint, with the published competitor baselines.
func (h *EvaluationHandler) Baseline(c *fiber.Ctx) error {
	records := h.tracker.Records()
	if len(records) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":    "No evaluations yet. Analyze a paper first.",
			"category": "not_found",
		})
	}

	rec := &records[len(records)-1]
	if fp := c.Query("fingerprint"); fp != "" {
		rec = nil
		for i := len(records) - 1; i >= 0; i-- {
			if records[i].Fingerprint == fp {
				rec = &records[i]
				break
			}
		}
		if rec == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":    "No evaluation for that paper.",
				"category": "not_found",
			})
		}
	}

	comparisons := evaluation.CompareWithBaseline(rec)
	if c.Query("format") == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(evaluation.RenderComparison(comparisons))
	}
	return c.JSON(fiber.Map{
		"evaluation":  rec,
		"comparisons": comparisons,
	})
}

func (h *EvaluationHandler) Analytics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"userMetrics": h.tracker.UserMetrics(),
		"statistics":  h.tracker.Statistics(),
		"historySize": h.history.Len(),
		"persona":     h.history.Persona(),
	})
}
