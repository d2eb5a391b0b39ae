package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQuestionLength   int
	MaxURLLength        int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware checks request bodies of the routes that take user input:
// session creation needs an http(s) url, experiment and ask routes need a
// bounded question free of markup. Other methods and routes pass through.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 5000
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = 2048
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
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

		path := strings.TrimSuffix(c.Path(), "/")

		switch {
		case strings.HasSuffix(path, "/api/v1/sessions"):
			req, ok := parseBody(c)
			if !ok {
				return badRequest(c, "Invalid JSON format")
			}
			urlStr, ok := req["url"].(string)
			if !ok || strings.TrimSpace(urlStr) == "" {
				return badRequest(c, "URL is required and must be a string")
			}
			urlStr = strings.TrimSpace(urlStr)
			if len(urlStr) > cfg.MaxURLLength || !isValidURL(urlStr) {
				return badRequest(c, "Invalid URL format")
			}

		case strings.HasSuffix(path, "/experiments") && strings.Contains(path, "/sessions/"),
			strings.HasSuffix(path, "/ask"):
			req, ok := parseBody(c)
			if !ok {
				return badRequest(c, "Invalid JSON format")
			}
			question, ok := req["question"].(string)
			if !ok || strings.TrimSpace(question) == "" {
				return badRequest(c, "Question is required and must be a string")
			}
			if len([]rune(question)) > cfg.MaxQuestionLength {
				return badRequest(c, "Question exceeds maximum length")
			}
			if containsXSS(question) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("path", path),
				)
				return badRequest(c, "Invalid question content")
			}
			if strings.ContainsRune(question, '\x00') {
				return badRequest(c, "Invalid question content")
			}
		}

		return c.Next()
	}
}

func parseBody(c *fiber.Ctx) (map[string]interface{}, bool) {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil || req == nil {
		return nil, false
	}
	return req, true
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	return true
}
