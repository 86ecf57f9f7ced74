package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/fluxbase-eu/pagepack/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBundleDir = "frontend/Magento/luma/en_US/js/bundle"

type fakeBundleBuilder struct {
	catalog  bundle.Catalog
	manifest *bundle.Manifest
	err      error
	cleared  bool
}

func (f *fakeBundleBuilder) Build(ctx context.Context) (*bundle.Manifest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.catalog.Store(f.manifest)
	return f.manifest, nil
}

func (f *fakeBundleBuilder) Clear(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.cleared = true
	f.catalog.Store(nil)
	return nil
}

func (f *fakeBundleBuilder) Plan(ctx context.Context) (*bundle.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &bundle.Plan{Mode: bundle.ModePageSpecific, Buckets: []bundle.PlanBucket{
		{Name: bundle.DefaultBucket, Modules: []string{"jquery"}},
	}}, nil
}

func (f *fakeBundleBuilder) Catalog() *bundle.Catalog {
	return &f.catalog
}

func pageSpecificManifest() *bundle.Manifest {
	return &bundle.Manifest{
		BuildID: "b-1",
		Mode:    bundle.ModePageSpecific,
		Files: []bundle.ManifestFile{
			{Key: testBundleDir + "/default.js", Kind: bundle.KindPage},
			{Key: testBundleDir + "/checkout.js", Kind: bundle.KindPage},
			{Key: testBundleDir + "/requirejs-config-checkout.js", Kind: bundle.KindConfig},
			{Key: testBundleDir + "/requirejs-config-cms.js", Kind: bundle.KindConfig},
		},
	}
}

func setupBundleApp(t *testing.T, builder *fakeBundleBuilder) *fiber.App {
	t.Helper()

	h := NewBundleHandler(builder, config.BundleConfig{Mode: "production", AdminArea: "admin"}, "/static", middleware.NewAuditLogger(zerolog.Nop()))

	app := fiber.New(fiber.Config{ErrorHandler: customErrorHandler})
	app.Get("/bundles", h.ListBundles)
	app.Get("/bundles/manifest", h.Manifest)
	app.Get("/bundles/plan", h.Plan)
	app.Post("/bundles/build", h.Build)
	app.Delete("/bundles", h.Clear)
	return app
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestBundleHandler_ListBundles(t *testing.T) {
	t.Run("no build yet", func(t *testing.T) {
		app := setupBundleApp(t, &fakeBundleBuilder{})
		resp, err := app.Test(httptest.NewRequest("GET", "/bundles?page_type=checkout", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	builder := &fakeBundleBuilder{}
	builder.catalog.Store(pageSpecificManifest())
	app := setupBundleApp(t, builder)

	tests := []struct {
		name     string
		query    string
		pageType string
		bundles  []string
	}{
		{
			name:     "narrows to the page configuration",
			query:    "?page_type=checkout",
			pageType: "checkout",
			bundles:  []string{testBundleDir + "/requirejs-config-checkout.js"},
		},
		{
			name:     "unknown page type gets everything",
			query:    "?page_type=catalog",
			pageType: "catalog",
			bundles:  pageSpecificManifest().Keys(),
		},
		{
			name:     "admin area gets everything",
			query:    "?page_type=checkout&area=admin",
			pageType: "admin",
			bundles:  pageSpecificManifest().Keys(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", "/bundles"+tt.query, nil))
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var body struct {
				BuildID  string   `json:"build_id"`
				PageType string   `json:"page_type"`
				Bundles  []string `json:"bundles"`
				URLs     []string `json:"urls"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

			assert.Equal(t, "b-1", body.BuildID)
			assert.Equal(t, tt.pageType, body.PageType)
			assert.Equal(t, tt.bundles, body.Bundles)
			require.Len(t, body.URLs, len(tt.bundles))
			assert.Equal(t, "/static/"+tt.bundles[0], body.URLs[0])
		})
	}
}

func TestBundleHandler_Build(t *testing.T) {
	t.Run("publishes the manifest", func(t *testing.T) {
		builder := &fakeBundleBuilder{manifest: pageSpecificManifest()}
		app := setupBundleApp(t, builder)

		resp, err := app.Test(httptest.NewRequest("POST", "/bundles/build", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		assert.Equal(t, "b-1", decode(t, resp.Body)["build_id"])

		resp, err = app.Test(httptest.NewRequest("GET", "/bundles/manifest", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "build in progress", err: bundle.ErrBuildInProgress, status: fiber.StatusConflict},
		{name: "dependency cycle", err: &bundle.CycleError{Cycle: []string{"a", "b", "a"}}, status: fiber.StatusUnprocessableEntity},
		{name: "missing content", err: fmt.Errorf("checkout: %w", bundle.ErrMissingContent), status: fiber.StatusUnprocessableEntity},
		{name: "invalid output", err: fmt.Errorf("default.js: %w", bundle.ErrInvalidOutput), status: fiber.StatusUnprocessableEntity},
		{name: "storage failure", err: errors.New("disk full"), status: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := &fakeBundleBuilder{err: tt.err}
			app := setupBundleApp(t, builder)

			resp, err := app.Test(httptest.NewRequest("POST", "/bundles/build", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decode(t, resp.Body)
			assert.Equal(t, float64(tt.status), body["code"])
			assert.Nil(t, builder.catalog.Current())
		})
	}

	t.Run("internal errors are not leaked", func(t *testing.T) {
		app := setupBundleApp(t, &fakeBundleBuilder{err: errors.New("s3: access key AKIA... rejected")})
		resp, err := app.Test(httptest.NewRequest("POST", "/bundles/build", nil))
		require.NoError(t, err)
		assert.Equal(t, "bundle operation failed", decode(t, resp.Body)["error"])
	})
}

func TestBundleHandler_Clear(t *testing.T) {
	builder := &fakeBundleBuilder{}
	builder.catalog.Store(pageSpecificManifest())
	app := setupBundleApp(t, builder)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/bundles", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.True(t, builder.cleared)

	resp, err = app.Test(httptest.NewRequest("GET", "/bundles/manifest", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestBundleHandler_Plan(t *testing.T) {
	app := setupBundleApp(t, &fakeBundleBuilder{})

	resp, err := app.Test(httptest.NewRequest("GET", "/bundles/plan", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var plan bundle.Plan
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plan))
	assert.Equal(t, bundle.ModePageSpecific, plan.Mode)
	require.Len(t, plan.Buckets, 1)
	assert.Equal(t, []string{"jquery"}, plan.Buckets[0].Modules)
}
