package handlers

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/evaluation"
	"github.com/ev-agent/backend/internal/history"
	"github.com/ev-agent/backend/internal/store"
	"github.com/ev-agent/backend/pkg/logger"
)

type EvaluationHandler struct {
	runner        *evaluation.Runner
	accumulator   *history.Accumulator
	store         store.ExampleStore
	resultDataset string

	mu      sync.Mutex
	running bool
}

func NewEvaluationHandler(runner *evaluation.Runner, accumulator *history.Accumulator, s store.ExampleStore, resultDataset string) *EvaluationHandler {
	return &EvaluationHandler{
		runner:        runner,
		accumulator:   accumulator,
		store:         s,
		resultDataset: resultDataset,
	}
}

// HandleRun executes a full evaluation pass over the scenario dataset. Runs
// are sequential with a per-case delay, so only one may be active at a time.
func (h *EvaluationHandler) HandleRun(c *fiber.Ctx) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "An evaluation run is already in progress",
		})
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	report, err := h.runner.Run(c.Context())
	if err != nil {
		logger.Error("Evaluation run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Evaluation run failed",
		})
	}

	return c.JSON(report)
}

func (h *EvaluationHandler) HandleImport(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Path is required",
		})
	}

	imported, err := h.runner.ImportCases(c.Context(), req.Path)
	if err != nil {
		logger.Error("Case import failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Case import failed",
		})
	}

	return c.JSON(fiber.Map{
		"imported": imported,
	})
}

// HandleBackfill re-appends every stored result to the history dataset. It is
// not idempotent; repeating it duplicates history entries.
func (h *EvaluationHandler) HandleBackfill(c *fiber.Ctx) error {
	appended, err := h.accumulator.Backfill(c.Context())
	if err != nil {
		logger.Error("History backfill failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "History backfill failed",
		})
	}

	return c.JSON(fiber.Map{
		"appended": appended,
	})
}

func (h *EvaluationHandler) HandleResults(c *fiber.Ctx) error {
	examples, err := h.store.ListExamples(c.Context(), h.resultDataset)
	if err != nil {
		logger.Error("Failed to list evaluation results", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list evaluation results",
		})
	}

	results := make([]fiber.Map, 0, len(examples))
	for i := range examples {
		results = append(results, fiber.Map{
			"id":         examples[i].ID,
			"case_id":    examples[i].MetaString("case_id"),
			"inputs":     examples[i].Inputs,
			"outputs":    examples[i].Outputs,
			"created_at": examples[i].CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}
