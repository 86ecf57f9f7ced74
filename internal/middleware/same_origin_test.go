package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginHost(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://Shop.Example.com", "shop.example.com"},
		{"https://shop.example.com:8443/checkout/?a=1", "shop.example.com:8443"},
		{"shop.example.com", "shop.example.com"},
		{"null", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, originHost(tt.raw))
		})
	}
}

func TestSameOriginXHR(t *testing.T) {
	var reasons []string
	app := fiber.New()
	app.All("/collect", SameOriginXHR(SameOriginConfig{
		TrustedOrigins: []string{"https://cdn.example.org"},
		OnReject:       func(c *fiber.Ctx, reason string) { reasons = append(reasons, reason) },
	}), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"result": true})
	})

	// httptest requests carry Host: example.com
	tests := []struct {
		name    string
		method  string
		headers map[string]string
		status  int
		reason  string
	}{
		{
			name:    "same origin xhr",
			method:  "POST",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Origin": "http://example.com"},
			status:  fiber.StatusOK,
		},
		{
			name:    "referer fallback",
			method:  "POST",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Referer": "http://example.com/checkout/"},
			status:  fiber.StatusOK,
		},
		{
			name:    "trusted origin",
			method:  "POST",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Origin": "https://cdn.example.org"},
			status:  fiber.StatusOK,
		},
		{
			name:    "get is rejected",
			method:  "GET",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Origin": "http://example.com"},
			status:  fiber.StatusBadRequest,
			reason:  "method",
		},
		{
			name:    "plain form post is rejected",
			method:  "POST",
			headers: map[string]string{"Origin": "http://example.com"},
			status:  fiber.StatusBadRequest,
			reason:  "not_xhr",
		},
		{
			name:    "cross site fetch metadata",
			method:  "POST",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Origin": "http://example.com", "Sec-Fetch-Site": "cross-site"},
			status:  fiber.StatusBadRequest,
			reason:  "fetch_site",
		},
		{
			name:    "foreign origin",
			method:  "POST",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest", "Origin": "https://evil.example.net"},
			status:  fiber.StatusBadRequest,
			reason:  "foreign_origin",
		},
		{
			name:    "no origin at all",
			method:  "POST",
			headers: map[string]string{"X-Requested-With": "XMLHttpRequest"},
			status:  fiber.StatusBadRequest,
			reason:  "no_origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons = nil
			req := httptest.NewRequest(tt.method, "/collect", strings.NewReader(`{}`))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.reason != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Empty(t, body)
				assert.Equal(t, []string{tt.reason}, reasons)
			}
		})
	}
}
