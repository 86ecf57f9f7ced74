package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEtagMatches(t *testing.T) {
	etag := `W/"abc"`

	tests := []struct {
		name        string
		ifNoneMatch string
		want        bool
	}{
		{"empty", "", false},
		{"wildcard", "*", true},
		{"exact", `W/"abc"`, true},
		{"strong form", `"abc"`, true},
		{"list", `"x", W/"abc"`, true},
		{"different", `"abd"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, etagMatches(etag, tt.ifNoneMatch))
		})
	}
}

func TestETag(t *testing.T) {
	app := fiber.New()
	app.Use(ETag())
	app.Get("/bundles", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"build_id": "b-1"})
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("nope")
	})
	app.Post("/bundles", func(c *fiber.Ctx) error {
		return c.SendString("built")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/bundles", nil))
	require.NoError(t, err)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, bodyETag([]byte(`{"build_id":"b-1"}`)), etag)

	t.Run("matching request gets 304", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/bundles", nil)
		req.Header.Set("If-None-Match", etag)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotModified, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Empty(t, body)
	})

	t.Run("errors carry no etag", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("ETag"))
	})

	t.Run("writes carry no etag", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("POST", "/bundles", nil))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("ETag"))
	})
}

func TestCacheControlConfig_Value(t *testing.T) {
	tests := []struct {
		name string
		cfg  CacheControlConfig
		want string
	}{
		{"empty", CacheControlConfig{}, ""},
		{"public", CacheControlConfig{MaxAge: 60, MustRevalidate: true}, "public, max-age=60, must-revalidate"},
		{"private", CacheControlConfig{Private: true, MaxAge: 5}, "private, max-age=5"},
		{"no store wins", CacheControlConfig{NoStore: true, MaxAge: 60}, "no-store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Value())
		})
	}
}

func TestCacheControl(t *testing.T) {
	app := fiber.New()
	app.Use(CacheControl(CacheControlConfig{MaxAge: 60}))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, "public, max-age=60", resp.Header.Get("Cache-Control"))

	resp, err = app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Cache-Control"))
}
