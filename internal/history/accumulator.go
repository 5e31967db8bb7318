// Package history accumulates per-case evaluation history as append-only
// parallel lists. Each case owns one example in the history dataset; every
// evaluation run appends one element to each of its lists, so the lists stay
// aligned and the full score trajectory of a case is preserved.
package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/metrics"
	"github.com/ev-agent/backend/internal/store"
	"github.com/ev-agent/backend/pkg/logger"
)

// Entry is one evaluation outcome for a case.
type Entry struct {
	CaseID     string
	Question   string
	Answer     string
	Score      int
	Rationale  string
	Timestamp  time.Time
	TraceRef   string
	ModelUsed  string
	JudgeModel string
}

type Accumulator struct {
	store          store.ExampleStore
	historyDataset string
	resultDataset  string
}

func New(s store.ExampleStore, historyDataset, resultDataset string) *Accumulator {
	return &Accumulator{
		store:          s,
		historyDataset: historyDataset,
		resultDataset:  resultDataset,
	}
}

// Append records one evaluation outcome under the entry's case. The first
// outcome for a case creates its history example with single-element lists;
// later outcomes append to every list of the existing example.
func (a *Accumulator) Append(ctx context.Context, entry Entry) error {
	if entry.CaseID == "" {
		return fmt.Errorf("failed to append history: empty case_id")
	}

	existing, err := a.findCase(ctx, entry.CaseID)
	if err != nil {
		return err
	}

	if existing == nil {
		return a.createCase(ctx, entry)
	}
	return a.appendToCase(ctx, existing, entry)
}

// Backfill rebuilds history from every flat result in the result dataset.
// Results are re-appended as-is, so running it twice duplicates every entry;
// it is meant for a history dataset known to be empty.
func (a *Accumulator) Backfill(ctx context.Context) (int, error) {
	results, err := a.store.ListExamples(ctx, a.resultDataset)
	if err != nil {
		return 0, fmt.Errorf("failed to list results for backfill: %w", err)
	}

	appended := 0
	for i := range results {
		entry := entryFromResult(&results[i])
		if entry.CaseID == "" {
			logger.Warn("Skipping result without case_id during backfill",
				zap.String("example_id", results[i].ID))
			continue
		}
		if err := a.Append(ctx, entry); err != nil {
			return appended, fmt.Errorf("failed to backfill case %s: %w", entry.CaseID, err)
		}
		appended++
	}

	logger.Info("History backfilled from results",
		zap.String("dataset", a.historyDataset),
		zap.Int("appended", appended),
	)

	return appended, nil
}

func (a *Accumulator) findCase(ctx context.Context, caseID string) (*store.Example, error) {
	examples, err := a.store.ListExamples(ctx, a.historyDataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history examples: %w", err)
	}
	for i := range examples {
		if examples[i].MetaString("case_id") == caseID {
			return &examples[i], nil
		}
	}
	return nil, nil
}

func (a *Accumulator) createCase(ctx context.Context, entry Entry) error {
	example := &store.Example{
		Dataset: a.historyDataset,
		Inputs: map[string]interface{}{
			"input": entry.Question,
		},
		Outputs: map[string]interface{}{
			"scores":     []interface{}{entry.Score},
			"answers":    []interface{}{entry.Answer},
			"reasons":    []interface{}{entry.Rationale},
			"timestamps": []interface{}{entry.Timestamp.Format(time.RFC3339)},
			"trace_urls": []interface{}{entry.TraceRef},
		},
		Metadata: map[string]interface{}{
			"case_id":         entry.CaseID,
			"model_used":      entry.ModelUsed,
			"judge_model":     entry.JudgeModel,
			"evaluation_type": "judge_accuracy_history",
		},
	}
	if err := a.store.CreateExample(ctx, example); err != nil {
		return fmt.Errorf("failed to create history example: %w", err)
	}

	metrics.HistoryAppendsTotal.WithLabelValues("create").Inc()
	logger.Debug("History case created", zap.String("case_id", entry.CaseID))

	return nil
}

func (a *Accumulator) appendToCase(ctx context.Context, example *store.Example, entry Entry) error {
	outputs := map[string]interface{}{
		"scores":     append(asList(example.Outputs["scores"]), entry.Score),
		"answers":    append(asList(example.Outputs["answers"]), entry.Answer),
		"reasons":    append(asList(example.Outputs["reasons"]), entry.Rationale),
		"timestamps": append(asList(example.Outputs["timestamps"]), entry.Timestamp.Format(time.RFC3339)),
		"trace_urls": append(asList(example.Outputs["trace_urls"]), entry.TraceRef),
	}

	if err := a.store.UpdateExample(ctx, example.ID, outputs); err != nil {
		return fmt.Errorf("failed to append to history example: %w", err)
	}

	metrics.HistoryAppendsTotal.WithLabelValues("append").Inc()
	logger.Debug("History case appended",
		zap.String("case_id", entry.CaseID),
		zap.Int("runs", len(outputs["scores"].([]interface{}))),
	)

	return nil
}

// asList normalizes a stored output field to a mutable list. Missing or
// malformed fields start over as empty, keeping the lists aligned from here on.
func asList(value interface{}) []interface{} {
	list, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]interface{}, len(list))
	copy(out, list)
	return out
}

func entryFromResult(result *store.Example) Entry {
	entry := Entry{
		CaseID:     result.MetaString("case_id"),
		Question:   result.InputString("input"),
		Rationale:  outputString(result, "judge_reasoning"),
		Answer:     outputString(result, "answer"),
		TraceRef:   outputString(result, "trace_url"),
		ModelUsed:  result.MetaString("model_used"),
		JudgeModel: result.MetaString("judge_model"),
		Timestamp:  result.CreatedAt,
	}
	if score, ok := result.Outputs["judge_accuracy_score"].(float64); ok {
		entry.Score = int(score)
	} else if score, ok := result.Outputs["judge_accuracy_score"].(int); ok {
		entry.Score = score
	}
	return entry
}

func outputString(example *store.Example, key string) string {
	if example.Outputs == nil {
		return ""
	}
	if s, ok := example.Outputs[key].(string); ok {
		return s
	}
	return ""
}
