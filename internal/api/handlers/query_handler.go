package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/metrics"
	"github.com/kgforge/backend/internal/query"
	"github.com/kgforge/backend/internal/storage/models"
	"github.com/kgforge/backend/pkg/logger"
)

// HistoryReader serves past retrieval queries. Optional; a nil reader
// disables the history endpoint.
type HistoryReader interface {
	GetQueryHistory(namespace string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	engine  *query.Engine
	history HistoryReader
}

func NewQueryHandler(engine *query.Engine, history HistoryReader) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		history: history,
	}
}

// Retrieve runs a weight-filtered traversal. An empty hit list is a valid
// 200 response; only a storage failure produces an error status.
func (h *QueryHandler) Retrieve(c *fiber.Ctx) error {
	var req query.Request

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()
	resp, err := h.engine.Retrieve(c.Context(), req)
	if err != nil {
		var traversal *query.TraversalError
		if errors.As(err, &traversal) {
			logger.Error("Graph traversal failed",
				zap.String("namespace", req.Namespace),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "graph traversal failed",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	metrics.RetrievalResults.Observe(float64(len(resp.Hits)))
	if resp.CacheHit {
		metrics.CacheHits.WithLabelValues("retrieval").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("retrieval").Inc()
	}

	return c.JSON(resp)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	namespace := c.Query("namespace")
	if namespace == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "namespace is required",
		})
	}

	if h.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "query history is not enabled",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	records, err := h.history.GetQueryHistory(namespace, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":         r.ID,
			"namespace":  r.Namespace,
			"seeds":      r.Seeds,
			"max_hops":   r.MaxHops,
			"min_weight": r.MinWeight,
			"limit":      r.Limit,
			"results":    r.Results,
			"cache_hit":  r.CacheHit,
			"latency_ms": r.LatencyMS,
			"created_at": r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"namespace": namespace,
		"history":   history,
	})
}
