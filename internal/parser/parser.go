// Package parser turns uploaded papers into plain text.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/pkg/logger"
)

const DefaultMaxFileSize int64 = 50 * 1024 * 1024

var (
	ErrUnsupportedType = errors.New("only PDF, DOCX, TXT and HTML files are supported")
	ErrFileTooLarge    = errors.New("file size must be less than 50MB")
	ErrEmptyFile       = errors.New("file is empty")
	ErrNoText          = errors.New("no text could be extracted")
)

// Image is a figure candidate found while parsing.
type Image struct {
	PageNumber  int    `json:"pageNumber,omitempty"`
	Name        string `json:"name,omitempty"`
	MediaType   string `json:"mediaType,omitempty"`
	Description string `json:"description"`
	Data        []byte `json:"-"`
}

type Document struct {
	Text      string  `json:"text"`
	Title     string  `json:"title,omitempty"`
	Images    []Image `json:"images"`
	PageCount *int    `json:"pageCount"`
}

// Extension returns the lowercase extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

func supported(ext string) bool {
	switch ext {
	case "pdf", "docx", "doc", "txt", "html", "htm":
		return true
	default:
		return false
	}
}

// ValidateFile checks name and size against DefaultMaxFileSize.
func ValidateFile(name string, size int64) error {
	return ValidateFileLimit(name, size, DefaultMaxFileSize)
}

func ValidateFileLimit(name string, size, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if size > limit {
		if limit == DefaultMaxFileSize {
			return ErrFileTooLarge
		}
		return fmt.Errorf("file size must be less than %dMB: %w", limit/(1024*1024), ErrFileTooLarge)
	}
	if !supported(Extension(name)) {
		return fmt.Errorf("%q: %w", name, ErrUnsupportedType)
	}
	return nil
}

// Parse extracts the text of data according to the extension of fileName.
func Parse(fileName string, data []byte) (*Document, error) {
	ext := Extension(fileName)
	if !supported(ext) {
		return nil, fmt.Errorf("unsupported file type %q: %w", ext, ErrUnsupportedType)
	}
	if len(data) == 0 {
		metrics.DocumentsProcessed.WithLabelValues(ext, "error").Inc()
		return nil, fmt.Errorf("%s: %w", fileName, ErrEmptyFile)
	}

	var (
		doc *Document
		err error
	)
	switch ext {
	case "pdf":
		doc, err = parsePDF(data)
	case "docx", "doc":
		doc, err = parseDOCX(data)
	case "txt":
		doc, err = parseTXT(data)
	case "html", "htm":
		doc, err = parseHTML(data)
	}
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues(ext, "error").Inc()
		logger.Warn("Document parsing failed", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}

	if doc.Images == nil {
		doc.Images = []Image{}
	}
	metrics.DocumentsProcessed.WithLabelValues(ext, "success").Inc()
	logger.Debug("Document parsed",
		zap.String("file", fileName),
		zap.Int("chars", len(doc.Text)),
		zap.Int("images", len(doc.Images)),
	)
	return doc, nil
}
