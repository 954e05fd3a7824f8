package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/session"
	"github.com/paperlens/backend/internal/textstats"
	"github.com/paperlens/backend/pkg/logger"
)

type PaperHandler struct {
	sessions *session.Manager
}

func NewPaperHandler(sessions *session.Manager) *PaperHandler {
	return &PaperHandler{
		sessions: sessions,
	}
}

// Upload parses, validates and opens one paper.
func (h *PaperHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "No file uploaded")
	}

	upload, err := readUpload(fh)
	if err != nil {
		logger.Error("Failed to read upload", zap.String("file", fh.Filename), zap.Error(err))
		return badRequest(c, "The file could not be read.")
	}

	results, err := h.sessions.ValidateBatch(c.Context(), []session.Upload{upload})
	if err != nil {
		return respondError(c, err)
	}
	res := results[0]
	if !res.Valid {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":    res.Reason,
			"category": "invalid_document",
		})
	}

	a, err := h.sessions.Open(c.Context(), fh.Filename, res.Document.Text)
	if err != nil {
		return respondError(c, err)
	}

	s, err := h.sessions.Current()
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId": s.ID,
		"restored":  s.Restored,
		"analysis":  view(a),
		"figures":   res.Document.Images,
		"pageCount": res.Document.PageCount,
	})
}

// Validate checks a batch of files without opening any of them.
func (h *PaperHandler) Validate(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "Expected a multipart upload")
	}

	headers := append(form.File["files"], form.File["file"]...)
	uploads := make([]session.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, err := readUpload(fh)
		if err != nil {
			logger.Warn("Failed to read upload", zap.String("file", fh.Filename), zap.Error(err))
		}
		uploads = append(uploads, upload)
	}

	results, err := h.sessions.ValidateBatch(c.Context(), uploads)
	if err != nil {
		return respondError(c, err)
	}

	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
		}
	}
	return c.JSON(fiber.Map{
		"results": results,
		"valid":   valid,
		"total":   len(results),
	})
}

func readUpload(fh *multipart.FileHeader) (session.Upload, error) {
	upload := session.Upload{Name: fh.Filename}

	f, err := fh.Open()
	if err != nil {
		return upload, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return upload, fmt.Errorf("failed to read upload: %w", err)
	}
	upload.Data = data
	return upload, nil
}

// GetSession describes the open paper and the state of each tab.
func (h *PaperHandler) GetSession(c *fiber.Ctx) error {
	s, err := h.sessions.Current()
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"sessionId": s.ID,
		"fileName":  s.FileName,
		"restored":  s.Restored,
		"openedAt":  s.OpenedAt,
		"analysis":  view(s.Analysis()),
		"tabs":      s.Tabs.Snapshot(),
	})
}

func (h *PaperHandler) CloseSession(c *fiber.Ctx) error {
	h.sessions.Close()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PaperHandler) LoadTab(c *fiber.Ctx) error {
	tab, err := analysis.ParseTab(c.Params("tab"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	data, err := h.sessions.LoadTab(c.Context(), tab)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"tab":  tab,
		"data": data,
	})
}

// Graph returns the concept graph of the open paper.
func (h *PaperHandler) Graph(c *fiber.Ctx) error {
	data, err := h.sessions.LoadTab(c.Context(), analysis.TabGraph)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(data)
}

func (h *PaperHandler) RegenerateSummary(c *fiber.Ctx) error {
	var req struct {
		Length analysis.SummaryLength `json:"length"`
		Depth  analysis.SummaryDepth  `json:"depth"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	summary, err := h.sessions.RegenerateSummary(c.Context(), req.Length, req.Depth)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"summary": summary,
		"length":  req.Length.Normalize(),
		"depth":   req.Depth.Normalize(),
	})
}

func (h *PaperHandler) ExplainFigure(c *fiber.Ctx) error {
	var req struct {
		Caption string `json:"caption"`
		Number  string `json:"number"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	explanation, err := h.sessions.ExplainFigure(c.Context(), req.Caption, req.Number)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"explanation": explanation,
	})
}

// Stats returns word frequencies, readability and the citation timeline of
// the open paper.
func (h *PaperHandler) Stats(c *fiber.Ctx) error {
	s, err := h.sessions.Current()
	if err != nil {
		return respondError(c, err)
	}

	report, err := textstats.Analyze(s.Text, time.Now())
	if err != nil {
		logger.Error("Failed to compute text statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute text statistics",
		})
	}

	return c.JSON(report)
}
