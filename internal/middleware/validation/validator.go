package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/parser"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

const (
	MaxTags      = 20
	MaxTagLength = 50
)

type Config struct {
	MaxFileSize         int64
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects bodies the handlers cannot use before they are parsed:
// unexpected content types and, for paper uploads, files of the wrong type
// or size.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = parser.DefaultMaxFileSize
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if strings.HasPrefix(c.Path(), "/api/v1/papers") {
			return validateUpload(c, cfg)
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func validateUpload(c *fiber.Ctx, cfg Config) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Expected a multipart upload with a file field",
		})
	}

	files := form.File["file"]
	files = append(files, form.File["files"]...)
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
		})
	}

	// A batch validation reports per-file problems itself.
	if strings.HasSuffix(c.Path(), "/validate") {
		return c.Next()
	}

	for _, fh := range files {
		if err := parser.ValidateFileLimit(fh.Filename, fh.Size, cfg.MaxFileSize); err != nil {
			cfg.Logger.Warn("Rejected upload",
				zap.String("file", fh.Filename),
				zap.Int64("size", fh.Size),
				zap.Error(err),
			)
			status := fiber.StatusBadRequest
			if errors.Is(err, parser.ErrFileTooLarge) {
				status = fiber.StatusRequestEntityTooLarge
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.Next()
}

// Tags trims, deduplicates and checks user-supplied tags.
func Tags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = sanitizeString(tag)
		if tag == "" || seen[tag] {
			continue
		}
		if len([]rune(tag)) > MaxTagLength {
			return nil, errors.New("tags must be at most 50 characters")
		}
		if containsXSS(tag) {
			return nil, errors.New("invalid tag content")
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, errors.New("at most 20 tags are allowed")
	}
	return out, nil
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
