package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// SecurityHeadersConfig holds the headers added to every response
type SecurityHeadersConfig struct {
	ContentSecurityPolicy   string
	XFrameOptions           string
	XContentTypeOptions     string
	StrictTransportSecurity string
	ReferrerPolicy          string
	// CrossOriginResourcePolicy must stay cross-origin for bundles served
	// from a CDN host different from the storefront
	CrossOriginResourcePolicy string
}

// DefaultSecurityHeadersConfig returns the configuration used for JSON and
// static responses. Nothing served here is meant to be framed or to run
// inline scripts.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:             "DENY",
		XContentTypeOptions:       "nosniff",
		StrictTransportSecurity:   "max-age=31536000; includeSubDomains",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginResourcePolicy: "cross-origin",
	}
}

// SecurityHeaders returns a middleware that adds security headers to all responses
func SecurityHeaders(config ...SecurityHeadersConfig) fiber.Handler {
	cfg := DefaultSecurityHeadersConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return func(c *fiber.Ctx) error {
		set := func(name, value string) {
			if value != "" {
				c.Set(name, value)
			}
		}

		set("Content-Security-Policy", cfg.ContentSecurityPolicy)
		set("X-Frame-Options", cfg.XFrameOptions)
		set("X-Content-Type-Options", cfg.XContentTypeOptions)
		set("Referrer-Policy", cfg.ReferrerPolicy)
		set("Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy)

		// HSTS only on HTTPS
		if c.Protocol() == "https" {
			set("Strict-Transport-Security", cfg.StrictTransportSecurity)
		}

		return c.Next()
	}
}
