package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union\s+select|insert\s+into|drop\s+table|delete\s+from|exec\s|script)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxSearchLength     int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects oversized or hostile inputs before they reach the
// mapping engine: suspicious search text on list endpoints and oversized
// version payloads on intake.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxSearchLength == 0 {
		cfg.MaxSearchLength = 500
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPatch {
			contentType := c.Get("Content-Type")
			if contentType != "" && !typeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "unsupported content type",
				})
			}

			if len(c.Body()) > cfg.MaxDocumentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "request body exceeds maximum size",
				})
			}
		}

		if search := c.Query("q"); search != "" {
			if len(search) > cfg.MaxSearchLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "search text exceeds maximum length",
				})
			}

			if sqlInjectionPattern.MatchString(search) || xssPattern.MatchString(search) {
				cfg.Logger.Warn("Suspicious search text rejected",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid search text",
				})
			}
		}

		return c.Next()
	}
}

func typeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
