package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name   string
		config []SecurityHeadersConfig
		want   map[string]string
	}{
		{
			name: "defaults",
			want: map[string]string{
				"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
				"X-Frame-Options":              "DENY",
				"X-Content-Type-Options":       "nosniff",
				"Referrer-Policy":              "strict-origin-when-cross-origin",
				"Cross-Origin-Resource-Policy": "cross-origin",
				"Strict-Transport-Security":    "",
			},
		},
		{
			name:   "empty values are skipped",
			config: []SecurityHeadersConfig{{XContentTypeOptions: "nosniff"}},
			want: map[string]string{
				"X-Content-Type-Options":  "nosniff",
				"X-Frame-Options":         "",
				"Content-Security-Policy": "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(SecurityHeaders(tt.config...))
			app.Get("/bundle.js", func(c *fiber.Ctx) error {
				return c.SendString("define('a',f);")
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/bundle.js", nil))
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)

			for header, value := range tt.want {
				assert.Equal(t, value, resp.Header.Get(header), header)
			}
		})
	}
}
