package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/middleware/validation"
	"github.com/paperlens/backend/internal/session"
)

type HistoryHandler struct {
	sessions *session.Manager
}

func NewHistoryHandler(sessions *session.Manager) *HistoryHandler {
	return &HistoryHandler{
		sessions: sessions,
	}
}

type historyEntry struct {
	Fingerprint string    `json:"contentFingerprint"`
	Title       string    `json:"title"`
	FileName    string    `json:"fileName"`
	Authors     []string  `json:"authors,omitempty"`
	Tags        []string  `json:"tags"`
	AnalyzedAt  time.Time `json:"analyzedAt"`
	Tabs        []string  `json:"completedTabs"`
}

// List returns the history newest first, without the heavy fields.
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	entries := h.sessions.History().List()

	out := make([]historyEntry, 0, len(entries))
	for _, a := range entries {
		e := historyEntry{
			Fingerprint: a.Fingerprint,
			Title:       a.Title,
			FileName:    a.FileName,
			Authors:     a.Authors,
			Tags:        a.Tags,
			AnalyzedAt:  a.AnalyzedAt,
			Tabs:        []string{},
		}
		if e.Tags == nil {
			e.Tags = []string{}
		}
		for _, tab := range analysis.Tabs() {
			if a.Fragment(tab) != nil {
				e.Tabs = append(e.Tabs, string(tab))
			}
		}
		out = append(out, e)
	}

	return c.JSON(fiber.Map{
		"history": out,
		"count":   len(out),
	})
}

func (h *HistoryHandler) Get(c *fiber.Ctx) error {
	a, ok := h.sessions.History().Lookup(c.Params("fingerprint"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":    "That paper is not in your history.",
			"category": "not_found",
		})
	}
	return c.JSON(view(a))
}

func (h *HistoryHandler) UpdateTags(c *fiber.Ctx) error {
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	tags, err := validation.Tags(req.Tags)
	if err != nil {
		return badRequest(c, err.Error())
	}

	fp := c.Params("fingerprint")
	if err := h.sessions.UpdateTags(c.Context(), fp, tags); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"contentFingerprint": fp,
		"tags":               tags,
	})
}

func (h *HistoryHandler) GetPersona(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"persona":  h.sessions.History().Persona(),
		"personas": analysis.Personas(),
	})
}

func (h *HistoryHandler) SetPersona(c *fiber.Ctx) error {
	var req struct {
		Persona string `json:"persona"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	p, err := h.sessions.SetPersona(c.Context(), analysis.ParsePersona(req.Persona))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"persona": p,
	})
}

func (h *HistoryHandler) Synthesize(c *fiber.Ctx) error {
	var req struct {
		Fingerprints []string `json:"fingerprints"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	out, err := h.sessions.Synthesize(c.Context(), req.Fingerprints)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(out)
}
