package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/router"
	"github.com/ev-agent/backend/pkg/logger"
)

// WebSocketHandler streams chat answers word by word over a socket. The
// routing decision and citations arrive in the final frame.
type WebSocketHandler struct {
	router *router.Router
}

func NewWebSocketHandler(r *router.Router) *WebSocketHandler {
	return &WebSocketHandler{router: r}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			Query string `json:"query"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "chat" || msg.Query == "" {
			continue
		}

		if err := h.streamAnswer(c, msg.Query); err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, query string) error {
	answer, citations, decision := h.router.Ask(context.Background(), query)

	words := strings.Fields(answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		err := c.WriteJSON(map[string]interface{}{
			"type":    "chunk",
			"content": chunk,
		})
		if err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"citations":  citations,
		"route":      decision.Route,
		"confidence": decision.Confidence,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, message string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": message,
	})
}
