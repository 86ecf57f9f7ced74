package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sensitiveQueryParams are redacted from request logs
var sensitiveQueryParams = []string{"token", "access_token", "api_key", "apikey", "key", "secret", "password"}

// StructuredLoggerConfig holds configuration for request logging
type StructuredLoggerConfig struct {
	// SkipPaths are never logged (health checks, metrics scrapes)
	SkipPaths []string
	// SkipSuccessfulRequests drops 2xx responses. The collection endpoint is
	// hit on every instrumented page view, so this is on by default for it.
	SkipSuccessfulRequests bool
	// Logger defaults to the global logger
	Logger *zerolog.Logger
	// SlowRequestThreshold logs slower requests at WARN (0 disables)
	SlowRequestThreshold time.Duration
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipPaths:            []string{"/health", "/metrics"},
		SlowRequestThreshold: time.Second,
	}
}

func redactQueryString(queryString string) string {
	if queryString == "" {
		return ""
	}

	values, err := url.ParseQuery(queryString)
	if err != nil {
		return "[redacted]"
	}

	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				values.Set(key, "[redacted]")
			}
		}
	}

	return values.Encode()
}

// StructuredLogger logs one zerolog event per request
func StructuredLogger(config ...StructuredLoggerConfig) fiber.Handler {
	cfg := DefaultStructuredLoggerConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if _, ok := skip[path]; ok {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		if cfg.SkipSuccessfulRequests && err == nil && status >= 200 && status < 300 {
			return err
		}

		var event *zerolog.Event
		switch {
		case err != nil:
			event = logger.Error().Err(err)
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case cfg.SlowRequestThreshold > 0 && duration > cfg.SlowRequestThreshold:
			event = logger.Warn().Bool("slow_request", true)
		default:
			event = logger.Info()
		}

		event = event.
			Str("request_id", requestID(c)).
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds()).
			Int("response_bytes", len(c.Response().Body()))

		if qs := string(c.Request().URI().QueryString()); qs != "" {
			event = event.Str("query", redactQueryString(qs))
		}
		if referer := c.Get(fiber.HeaderReferer); referer != "" {
			event = event.Str("referer", referer)
		}

		event.Msg("HTTP request")
		return err
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// AuditLogger records operator actions such as builds and usage resets
type AuditLogger struct {
	logger zerolog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With().Str("log_type", "audit").Logger(),
	}
}

// LogOperatorAction logs one operator action and its outcome
func (al *AuditLogger) LogOperatorAction(c *fiber.Ctx, action string, err error, fields map[string]interface{}) {
	event := al.logger.Info()
	if err != nil {
		event = al.logger.Warn().Err(err)
	}

	event.
		Str("action", action).
		Bool("success", err == nil).
		Str("ip", c.IP()).
		Str("request_id", requestID(c)).
		Fields(fields).
		Msg("Operator action")
}
