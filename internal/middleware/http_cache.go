package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ETag adds a weak body-hash ETag to successful GET and HEAD responses and
// answers a matching If-None-Match with 304. Bundle listings only change
// when a build is published, so storefront pollers mostly get 304s.
func ETag() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return c.Next()
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		body := c.Response().Body()
		if status < 200 || status >= 300 || len(body) == 0 {
			return nil
		}

		etag := bodyETag(body)
		c.Set(fiber.HeaderETag, etag)

		if etagMatches(etag, c.Get(fiber.HeaderIfNoneMatch)) {
			c.Status(fiber.StatusNotModified)
			c.Response().ResetBody()
		}
		return nil
	}
}

// bodyETag uses the first 16 bytes of the SHA-256 of body
func bodyETag(body []byte) string {
	hash := sha256.Sum256(body)
	return `W/"` + hex.EncodeToString(hash[:16]) + `"`
}

// etagMatches applies the weak comparison of RFC 7232 to every candidate in
// an If-None-Match header
func etagMatches(etag, ifNoneMatch string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}

	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}

// CacheControlConfig describes a Cache-Control header
type CacheControlConfig struct {
	MaxAge         int // seconds
	Private        bool
	NoStore        bool
	MustRevalidate bool
}

// Value renders the header value
func (cfg CacheControlConfig) Value() string {
	if cfg.NoStore {
		return "no-store"
	}

	var directives []string
	if cfg.Private {
		directives = append(directives, "private")
	} else if cfg.MaxAge > 0 {
		directives = append(directives, "public")
	}
	if cfg.MaxAge > 0 {
		directives = append(directives, "max-age="+strconv.Itoa(cfg.MaxAge))
	}
	if cfg.MustRevalidate {
		directives = append(directives, "must-revalidate")
	}
	return strings.Join(directives, ", ")
}

// CacheControl sets Cache-Control on successful GET and HEAD responses
func CacheControl(cfg CacheControlConfig) fiber.Handler {
	value := cfg.Value()

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return c.Next()
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= 200 && status < 300 && value != "" {
			c.Set(fiber.HeaderCacheControl, value)
		}
		return nil
	}
}
