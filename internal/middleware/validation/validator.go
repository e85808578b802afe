package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Namespaces become part of storage keys and cache key prefixes, so the
// charset stays conservative.
var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type Config struct {
	MaxSeeds        int
	MaxSeedLength   int
	MaxDocumentSize int
	Logger          *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxSeeds == 0 {
		cfg.MaxSeeds = 20
	}
	if cfg.MaxSeedLength == 0 {
		cfg.MaxSeedLength = 200
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		if strings.Contains(path, "/api/v1/retrieve") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			namespace, ok := req["namespace"].(string)
			if !ok || !namespacePattern.MatchString(namespace) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "namespace must be lowercase alphanumeric with - or _, max 64 chars",
				})
			}

			seeds, ok := req["seeds"].([]interface{})
			if !ok || len(seeds) == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "seeds must be a non-empty array",
				})
			}
			if len(seeds) > cfg.MaxSeeds {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "too many seed entities",
				})
			}
			for _, s := range seeds {
				seed, ok := s.(string)
				if !ok || strings.TrimSpace(seed) == "" || len(seed) > cfg.MaxSeedLength {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "seeds must be non-empty strings",
					})
				}
			}
		}

		if strings.Contains(path, "/api/v1/documents") {
			if len(c.Body()) > cfg.MaxDocumentSize {
				cfg.Logger.Warn("Oversized document rejected",
					zap.String("ip", c.IP()),
					zap.Int("size", len(c.Body())),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document exceeds maximum size",
				})
			}

			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			namespace, ok := req["namespace"].(string)
			if !ok || !namespacePattern.MatchString(namespace) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "namespace must be lowercase alphanumeric with - or _, max 64 chars",
				})
			}

			source, ok := req["source"].(string)
			if !ok || strings.TrimSpace(source) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "source is required",
				})
			}
		}

		return c.Next()
	}
}
