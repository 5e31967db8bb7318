package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/store"
	"github.com/ev-agent/backend/pkg/logger"
)

type HistoryHandler struct {
	store          store.ExampleStore
	historyDataset string
}

func NewHistoryHandler(s store.ExampleStore, historyDataset string) *HistoryHandler {
	return &HistoryHandler{
		store:          s,
		historyDataset: historyDataset,
	}
}

// HandleGetCase returns the accumulated evaluation history of one case: its
// aligned scores, answers, reasons, timestamps, and trace refs.
func (h *HistoryHandler) HandleGetCase(c *fiber.Ctx) error {
	caseID := c.Params("case_id")
	if caseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "case_id is required",
		})
	}

	examples, err := h.store.ListExamples(c.Context(), h.historyDataset)
	if err != nil {
		logger.Error("Failed to list history examples", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	for i := range examples {
		if examples[i].MetaString("case_id") != caseID {
			continue
		}
		return c.JSON(fiber.Map{
			"case_id":  caseID,
			"question": examples[i].InputString("input"),
			"history":  examples[i].Outputs,
			"metadata": examples[i].Metadata,
		})
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "No history for case",
	})
}

// HandleListCases returns a summary row per case in the history dataset.
func (h *HistoryHandler) HandleListCases(c *fiber.Ctx) error {
	examples, err := h.store.ListExamples(c.Context(), h.historyDataset)
	if err != nil {
		logger.Error("Failed to list history examples", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	cases := make([]fiber.Map, 0, len(examples))
	for i := range examples {
		runs := 0
		if scores, ok := examples[i].Outputs["scores"].([]interface{}); ok {
			runs = len(scores)
		}
		cases = append(cases, fiber.Map{
			"case_id":  examples[i].MetaString("case_id"),
			"question": examples[i].InputString("input"),
			"runs":     runs,
		})
	}

	return c.JSON(fiber.Map{
		"cases": cases,
		"count": len(cases),
	})
}
