package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/router"
	"github.com/ev-agent/backend/pkg/logger"
)

const maxQueryLength = 2000

type ChatHandler struct {
	router *router.Router
}

func NewChatHandler(r *router.Router) *ChatHandler {
	return &ChatHandler{router: r}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}
	if len(req.Query) > maxQueryLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is too long",
		})
	}

	answer, citations, decision := h.router.Ask(c.Context(), req.Query)

	return c.JSON(fiber.Map{
		"answer":     answer,
		"citations":  citations,
		"route":      decision.Route,
		"confidence": decision.Confidence,
	})
}
