package api

import (
	"context"
	"errors"
	"path"

	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/fluxbase-eu/pagepack/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// BundleBuilder is the part of bundle.Builder the HTTP layer drives
type BundleBuilder interface {
	Build(ctx context.Context) (*bundle.Manifest, error)
	Clear(ctx context.Context) error
	Plan(ctx context.Context) (*bundle.Plan, error)
	Catalog() *bundle.Catalog
}

// BundleHandler serves bundle listings and operator actions
type BundleHandler struct {
	builder      BundleBuilder
	selector     *bundle.Selector
	adminArea    string
	staticPrefix string
	audit        *middleware.AuditLogger
}

// NewBundleHandler creates a new bundle handler
func NewBundleHandler(builder BundleBuilder, cfg config.BundleConfig, staticPrefix string, audit *middleware.AuditLogger) *BundleHandler {
	return &BundleHandler{
		builder:      builder,
		selector:     bundle.NewSelector(cfg.IsProduction(), cfg.AdminArea),
		adminArea:    cfg.AdminArea,
		staticPrefix: staticPrefix,
		audit:        audit,
	}
}

// ListBundles returns the bundle files a page of the given type should load.
// GET /api/v1/bundles?page_type=checkout&area=frontend
func (h *BundleHandler) ListBundles(c *fiber.Ctx) error {
	manifest := h.builder.Catalog().Current()
	if manifest == nil {
		return fiber.NewError(fiber.StatusNotFound, "no bundles have been built")
	}

	route := c.Query("page_type")
	if area := c.Query("area"); area != "" && area == h.adminArea {
		route = h.adminArea
	}

	keys := h.selector.Select(manifest.Keys(), route)
	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = path.Join(h.staticPrefix, k)
	}

	return c.JSON(fiber.Map{
		"build_id":  manifest.BuildID,
		"mode":      manifest.Mode,
		"page_type": route,
		"bundles":   keys,
		"urls":      urls,
	})
}

// Manifest returns the manifest of the last successful build
func (h *BundleHandler) Manifest(c *fiber.Ctx) error {
	manifest := h.builder.Catalog().Current()
	if manifest == nil {
		return fiber.NewError(fiber.StatusNotFound, "no bundles have been built")
	}
	return c.JSON(manifest)
}

// Build runs a build pass synchronously
func (h *BundleHandler) Build(c *fiber.Ctx) error {
	manifest, err := h.builder.Build(c.UserContext())
	if err != nil {
		h.audit.LogOperatorAction(c, "bundle.build", err, nil)
		return buildError(err)
	}

	h.audit.LogOperatorAction(c, "bundle.build", nil, map[string]interface{}{
		"build_id": manifest.BuildID,
		"mode":     manifest.Mode,
		"files":    len(manifest.Files),
	})
	return c.Status(fiber.StatusCreated).JSON(manifest)
}

// Clear deletes every bundle
func (h *BundleHandler) Clear(c *fiber.Ctx) error {
	err := h.builder.Clear(c.UserContext())
	h.audit.LogOperatorAction(c, "bundle.clear", err, nil)
	if err != nil {
		return buildError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Plan previews the next build without writing
func (h *BundleHandler) Plan(c *fiber.Ctx) error {
	plan, err := h.builder.Plan(c.UserContext())
	if err != nil {
		return buildError(err)
	}
	return c.JSON(plan)
}

func buildError(err error) error {
	var cycle *bundle.CycleError
	switch {
	case errors.Is(err, bundle.ErrBuildInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.As(err, &cycle),
		errors.Is(err, bundle.ErrMissingContent),
		errors.Is(err, bundle.ErrInvalidOutput),
		errors.Is(err, bundle.ErrDuplicateModule):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		log.Error().Err(err).Msg("Bundle operation failed")
		return fiber.NewError(fiber.StatusInternalServerError, "bundle operation failed")
	}
}
