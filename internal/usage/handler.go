package usage

import (
	"github.com/fluxbase-eu/pagepack/internal/observability"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Handler exposes the collector over HTTP
type Handler struct {
	collector *Collector
	script    []byte
	metrics   *observability.Metrics
}

// NewHandler creates a new usage handler
func NewHandler(collector *Collector, script ScriptOptions) *Handler {
	return &Handler{
		collector: collector,
		script:    RenderScript(script),
	}
}

// SetMetrics sets the metrics instance
func (h *Handler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
	h.collector.SetMetrics(m)
}

// Collect handles POST dependency reports. Rejections carry no body.
func (h *Handler) Collect(c *fiber.Ctx) error {
	var p Payload
	if err := c.App().Config().JSONDecoder(c.Body(), &p); err != nil {
		log.Debug().Err(err).Msg("Rejecting undecodable dependency report")
		return h.reject(c)
	}
	if err := p.Validate(); err != nil {
		return h.reject(c)
	}

	h.collector.Collect(c.UserContext(), p)
	h.record("accepted")

	return c.JSON(fiber.Map{"result": true})
}

// Script serves the instrumentation module for the storefront
func (h *Handler) Script(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "public, max-age=300")
	return c.Send(h.script)
}

// ListRecords returns every stored record
func (h *Handler) ListRecords(c *fiber.Ctx) error {
	records, err := h.collector.Store().List(c.UserContext())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list usage records")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list usage records")
	}
	if records == nil {
		records = []Record{}
	}
	return c.JSON(fiber.Map{"records": records, "count": len(records)})
}

// Stats returns per page type counts
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.collector.Store().Stats(c.UserContext())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute usage stats")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to compute usage stats")
	}
	if stats == nil {
		stats = []PageTypeStat{}
	}
	return c.JSON(fiber.Map{"page_types": stats})
}

// Reset deletes every stored record
func (h *Handler) Reset(c *fiber.Ctx) error {
	n, err := h.collector.Reset(c.UserContext())
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset usage records")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to reset usage records")
	}
	log.Info().Int64("deleted", n).Msg("Usage records reset")
	return c.JSON(fiber.Map{"deleted": n})
}

func (h *Handler) reject(c *fiber.Ctx) error {
	h.record("rejected")
	c.Status(fiber.StatusBadRequest)
	return nil
}

func (h *Handler) record(result string) {
	if h.metrics != nil {
		h.metrics.RecordCollectRequest(result)
	}
}
