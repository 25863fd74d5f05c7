package validation

import (
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	AllowedContentTypes []string
	// UploadPaths are routes whose multipart files are checked.
	UploadPaths       []string
	AllowedExtensions []string
	MaxUploadSize     int64
	Logger            *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".csv", ".xlsx"}
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 50 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !containsAny(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if !hasPrefixAny(c.Path(), cfg.UploadPaths) || !strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
			return c.Next()
		}

		form, err := c.MultipartForm()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid multipart form",
			})
		}

		for field, files := range form.File {
			for _, fh := range files {
				ext := strings.ToLower(filepath.Ext(fh.Filename))
				if !contains(cfg.AllowedExtensions, ext) {
					cfg.Logger.Warn("Rejected upload",
						zap.String("ip", c.IP()),
						zap.String("field", field),
						zap.String("filename", fh.Filename),
					)
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported file type: " + sanitizeString(fh.Filename),
						"field": field,
					})
				}
				if fh.Size > cfg.MaxUploadSize {
					return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
						"error": "File exceeds maximum size",
						"field": field,
					})
				}
			}
		}

		return c.Next()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
