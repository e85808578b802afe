package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/metrics"
	"github.com/kgforge/backend/pkg/logger"
)

const subscriberBuffer = 64

// WebSocketHandler streams live cascade events to observability clients.
// Each connection gets its own subscription; a slow client drops events
// rather than backing up the extraction path.
type WebSocketHandler struct {
	collector *metrics.Collector
}

func NewWebSocketHandler(collector *metrics.Collector) *WebSocketHandler {
	return &WebSocketHandler{
		collector: collector,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	events, cancel := h.collector.Subscribe(subscriberBuffer)

	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Drain inbound frames so close and ping frames are processed; the
	// stream is one-way.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.sendEvent(c, ev); err != nil {
				logger.Debug("Failed to write WebSocket event", zap.Error(err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendEvent(c *websocket.Conn, ev metrics.Event) error {
	msg := map[string]interface{}{}

	switch {
	case ev.Attempt != nil:
		msg["type"] = "attempt"
		msg["window_index"] = ev.Attempt.WindowIndex
		msg["rank"] = ev.Attempt.Rank
		msg["method"] = ev.Attempt.Method
		msg["outcome"] = ev.Attempt.Outcome
		msg["latency_ms"] = ev.Attempt.Latency.Milliseconds()
		msg["prompt_tokens"] = ev.Attempt.PromptTokens
		msg["completion_tokens"] = ev.Attempt.CompletionTokens
		msg["at"] = ev.Attempt.At
	case ev.Fallback != nil:
		msg["type"] = "fallback"
		msg["window_index"] = ev.Fallback.WindowIndex
		msg["from_rank"] = ev.Fallback.FromRank
		msg["to_rank"] = ev.Fallback.ToRank
		msg["reason"] = ev.Fallback.Reason
		msg["at"] = ev.Fallback.At
	default:
		return nil
	}

	return c.WriteJSON(msg)
}
