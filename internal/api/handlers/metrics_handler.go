package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kgforge/backend/internal/metrics"
)

type MetricsHandler struct {
	collector       *metrics.Collector
	defaultLookback time.Duration
}

func NewMetricsHandler(collector *metrics.Collector, defaultLookback time.Duration) *MetricsHandler {
	if defaultLookback <= 0 {
		defaultLookback = 15 * time.Minute
	}
	return &MetricsHandler{
		collector:       collector,
		defaultLookback: defaultLookback,
	}
}

// CascadeSummary reports rolling-window cascade health: per-rank success
// rates, latency, token usage and the fallback rate. Lookback accepts a Go
// duration string, e.g. ?lookback=5m.
func (h *MetricsHandler) CascadeSummary(c *fiber.Ctx) error {
	lookback := h.defaultLookback
	if raw := c.Query("lookback"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "lookback must be a positive duration, e.g. 5m",
			})
		}
		lookback = parsed
	}

	return c.JSON(h.collector.Summary(lookback))
}
