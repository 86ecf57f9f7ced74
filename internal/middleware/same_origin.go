package middleware

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// SameOriginConfig configures SameOriginXHR
type SameOriginConfig struct {
	// TrustedOrigins are accepted in addition to the request host. Entries
	// may be full origins (https://shop.example.com) or bare hosts.
	TrustedOrigins []string
	// OnReject is called with the rejection reason before the 400 is sent
	OnReject func(c *fiber.Ctx, reason string)
}

// SameOriginXHR only lets through asynchronous POSTs issued by a page of the
// same site. Everything else gets an empty 400.
func SameOriginXHR(config SameOriginConfig) fiber.Handler {
	trusted := make(map[string]struct{}, len(config.TrustedOrigins))
	for _, origin := range config.TrustedOrigins {
		if host := originHost(origin); host != "" {
			trusted[host] = struct{}{}
		}
	}

	reject := func(c *fiber.Ctx, reason string) error {
		log.Debug().
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Str("reason", reason).
			Msg("Rejecting cross-origin request")
		if config.OnReject != nil {
			config.OnReject(c, reason)
		}
		c.Status(fiber.StatusBadRequest)
		return nil
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return reject(c, "method")
		}
		if !c.XHR() {
			return reject(c, "not_xhr")
		}
		if site := c.Get("Sec-Fetch-Site"); site != "" && site != "same-origin" {
			return reject(c, "fetch_site")
		}

		source := c.Get(fiber.HeaderOrigin)
		if source == "" {
			source = c.Get(fiber.HeaderReferer)
		}
		if source == "" {
			return reject(c, "no_origin")
		}

		host := originHost(source)
		if host == "" {
			return reject(c, "bad_origin")
		}
		if !strings.EqualFold(host, string(c.Request().Host())) {
			if _, ok := trusted[host]; !ok {
				return reject(c, "foreign_origin")
			}
		}

		return c.Next()
	}
}

// originHost extracts the lower-cased host[:port] of an origin, referer or bare host
func originHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
