package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/parser"
	"github.com/paperlens/backend/pkg/fingerprint"
)

type Upload struct {
	Name string
	Data []byte
}

// FileResult is the outcome for one uploaded file. Reason explains an
// invalid file in words fit for the user.
type FileResult struct {
	Name     string           `json:"name"`
	Valid    bool             `json:"valid"`
	Reason   string           `json:"reason,omitempty"`
	Document *parser.Document `json:"-"`
}

// ValidateBatch checks every file independently: type, size, parse and the
// model's is-this-a-paper judgement. Papers already in history skip the
// judgement. The batch itself only fails when ctx is
// cancelled. Results keep the order of files.
func (m *Manager) ValidateBatch(ctx context.Context, files []Upload) ([]FileResult, error) {
	results := make([]FileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ValidateConcurrent)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			results[i] = m.validateOne(gctx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range results {
		if !r.Valid {
			m.bus.Error(fmt.Sprintf("%s: %s", r.Name, r.Reason))
		}
	}
	return results, nil
}

func (m *Manager) validateOne(ctx context.Context, f Upload) FileResult {
	res := FileResult{Name: f.Name}

	limit := m.cfg.MaxFileSize
	if limit <= 0 {
		limit = parser.DefaultMaxFileSize
	}
	if err := parser.ValidateFileLimit(f.Name, int64(len(f.Data)), limit); err != nil {
		res.Reason = validationReason(err)
		return res
	}

	doc, err := parser.Parse(f.Name, f.Data)
	if err != nil {
		m.logger.Warn("Failed to parse upload", zap.String("file", f.Name), zap.Error(err))
		res.Reason = validationReason(err)
		return res
	}

	if _, ok := m.history.Lookup(fingerprint.Compute(doc.Text)); ok {
		m.logger.Debug("Upload already in history, skipping validation", zap.String("file", f.Name))
		res.Valid = true
		res.Document = doc
		return res
	}

	verdict, err := m.pipeline.ValidateDocument(ctx, doc.Text)
	if err != nil {
		m.logger.Warn("Document validation failed", zap.String("file", f.Name), zap.Error(err))
		res.Reason = llm.UserMessage(err)
		return res
	}
	if !verdict.IsValid {
		res.Reason = verdict.Reason
		if res.Reason == "" {
			res.Reason = "This does not look like a research paper."
		}
		return res
	}

	res.Valid = true
	res.Document = doc
	return res
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, parser.ErrUnsupportedType):
		return "Unsupported file type. Please upload a PDF, DOCX, TXT or HTML file."
	case errors.Is(err, parser.ErrFileTooLarge):
		return "File is too large."
	case errors.Is(err, parser.ErrEmptyFile):
		return "File is empty."
	case errors.Is(err, parser.ErrNoText):
		return "No text could be extracted from this file."
	default:
		return "The file could not be read."
	}
}
