package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/memory/v2"
	"github.com/rs/zerolog/log"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	Name       string                  // label used in logs and metrics
	Max        int                     // maximum number of requests per window
	Expiration time.Duration           // window length
	KeyFunc    func(*fiber.Ctx) string // defaults to the client IP
	Message    string                  // error message for JSON responses
	OnLimit    func(name string)       // called for every rejected request
}

func (config *RateLimiterConfig) applyDefaults() {
	if config.KeyFunc == nil {
		config.KeyFunc = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}
	if config.Message == "" {
		config.Message = fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed.",
			config.Max, config.Expiration.String())
	}
}

// NewRateLimiter creates a process-local limiter answering with a JSON 429.
// It guards operator endpoints, which are never shared between instances.
func NewRateLimiter(config RateLimiterConfig) fiber.Handler {
	config.applyDefaults()

	storage := memory.New(memory.Config{
		GCInterval: 10 * time.Minute,
	})

	return limiter.New(limiter.Config{
		Max:          config.Max,
		Expiration:   config.Expiration,
		KeyGenerator: config.KeyFunc,
		LimitReached: func(c *fiber.Ctx) error {
			if config.OnLimit != nil {
				config.OnLimit(config.Name)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     config.Message,
				"retry_after": int(config.Expiration.Seconds()),
			})
		},
		Storage: storage,
	})
}

// NewStoreRateLimiter limits requests with a shared ratelimit.Store. Rejected
// requests get an empty 429. If the store fails the request is let through.
func NewStoreRateLimiter(store ratelimit.Store, config RateLimiterConfig) fiber.Handler {
	config.applyDefaults()

	return func(c *fiber.Ctx) error {
		key := config.Name + ":" + config.KeyFunc(c)

		result, err := ratelimit.Check(c.UserContext(), store, key, int64(config.Max), config.Expiration)
		if err != nil {
			log.Warn().Err(err).Str("limiter", config.Name).Msg("Rate limit store unavailable, allowing request")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			if config.OnLimit != nil {
				config.OnLimit(config.Name)
			}
			retry := time.Until(result.ResetAt).Round(time.Second)
			if retry < time.Second {
				retry = time.Second
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retry.Seconds())))
			log.Debug().Str("limiter", config.Name).Str("ip", c.IP()).Msg("Rate limit exceeded")
			c.Status(fiber.StatusTooManyRequests)
			return nil
		}

		return c.Next()
	}
}

// CollectorLimiter throttles dependency reports per client IP
func CollectorLimiter(store ratelimit.Store, max int, window time.Duration, onLimit func(string)) fiber.Handler {
	return NewStoreRateLimiter(store, RateLimiterConfig{
		Name:       "collect",
		Max:        max,
		Expiration: window,
		OnLimit:    onLimit,
	})
}

// AdminLimiter is a general limiter for operator endpoints
func AdminLimiter(onLimit func(string)) fiber.Handler {
	return NewRateLimiter(RateLimiterConfig{
		Name:       "admin",
		Max:        30,
		Expiration: time.Minute,
		KeyFunc: func(c *fiber.Ctx) string {
			return "admin:" + c.IP()
		},
		Message: "Admin rate limit exceeded. Maximum 30 requests per minute allowed.",
		OnLimit: onLimit,
	})
}
