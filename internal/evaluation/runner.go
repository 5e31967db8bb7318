// Package evaluation runs the judge pipeline over the QA scenario dataset:
// each case is answered through the router, scored by the judge, persisted as
// a flat result, and appended to its per-case history.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/history"
	"github.com/ev-agent/backend/internal/judge"
	"github.com/ev-agent/backend/internal/rag"
	"github.com/ev-agent/backend/internal/router"
	"github.com/ev-agent/backend/internal/store"
	"github.com/ev-agent/backend/pkg/logger"

	"github.com/ev-agent/backend/internal/metrics"
)

type Answerer interface {
	Ask(ctx context.Context, query string) (string, []rag.Citation, router.Decision)
}

type Scorer interface {
	Score(ctx context.Context, question, answer string) judge.Verdict
}

type HistoryAccumulator interface {
	Append(ctx context.Context, entry history.Entry) error
	Backfill(ctx context.Context) (int, error)
}

type Config struct {
	SourceDataset  string
	ResultDataset  string
	HistoryDataset string
	Delay          time.Duration
	Model          string
	JudgeModel     string
}

type Runner struct {
	cfg      Config
	store    store.ExampleStore
	answerer Answerer
	scorer   Scorer
	history  HistoryAccumulator
}

// Report summarizes one evaluation run.
type Report struct {
	Total    int     `json:"total"`
	Failed   int     `json:"failed"`
	Average  float64 `json:"average_score"`
	MinScore int     `json:"min_score"`
	MaxScore int     `json:"max_score"`
}

func NewRunner(cfg Config, s store.ExampleStore, answerer Answerer, scorer Scorer, hist HistoryAccumulator) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    s,
		answerer: answerer,
		scorer:   scorer,
		history:  hist,
	}
}

type importCase struct {
	CaseID   string `json:"case_id"`
	Question string `json:"question"`
}

// ImportCases loads scenario cases from a JSON file into the source dataset.
// Cases whose case_id already exists in the dataset are skipped.
func (r *Runner) ImportCases(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read cases file: %w", err)
	}

	var cases []importCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return 0, fmt.Errorf("failed to parse cases file: %w", err)
	}

	existing, err := r.store.ListExamples(ctx, r.cfg.SourceDataset)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing cases: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for i := range existing {
		known[existing[i].MetaString("case_id")] = true
	}

	imported := 0
	for _, c := range cases {
		if c.CaseID == "" || c.Question == "" {
			logger.Warn("Skipping case with missing fields", zap.String("case_id", c.CaseID))
			continue
		}
		if known[c.CaseID] {
			continue
		}
		example := &store.Example{
			Dataset: r.cfg.SourceDataset,
			Inputs:  map[string]interface{}{"input": c.Question},
			Metadata: map[string]interface{}{
				"case_id": c.CaseID,
			},
		}
		if err := r.store.CreateExample(ctx, example); err != nil {
			return imported, fmt.Errorf("failed to import case %s: %w", c.CaseID, err)
		}
		known[c.CaseID] = true
		imported++
	}

	logger.Info("Scenario cases imported",
		zap.String("dataset", r.cfg.SourceDataset),
		zap.Int("imported", imported),
		zap.Int("skipped", len(cases)-imported),
	)

	return imported, nil
}

// Run evaluates every case in the source dataset sequentially, in ascending
// order of the first number in each case_id. Per-case failures are logged and
// skipped so one bad case cannot stop the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	metrics.EvaluationRunsTotal.Inc()

	cases, err := r.store.ListExamples(ctx, r.cfg.SourceDataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation cases: %w", err)
	}
	sortCases(cases)

	logger.Info("Evaluation run started",
		zap.String("dataset", r.cfg.SourceDataset),
		zap.Int("cases", len(cases)),
	)

	report := &Report{MinScore: judge.MaxScore}
	scoreSum := 0

	for i := range cases {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("evaluation run interrupted: %w", err)
		}

		verdict, err := r.evaluateCase(ctx, &cases[i])
		if err != nil {
			metrics.EvaluationCasesTotal.WithLabelValues("failed").Inc()
			logger.Error("Case evaluation failed",
				zap.String("case_id", cases[i].MetaString("case_id")),
				zap.Error(err),
			)
			report.Failed++
			continue
		}

		metrics.EvaluationCasesTotal.WithLabelValues("ok").Inc()
		report.Total++
		scoreSum += verdict.Score
		if verdict.Score < report.MinScore {
			report.MinScore = verdict.Score
		}
		if verdict.Score > report.MaxScore {
			report.MaxScore = verdict.Score
		}

		if r.cfg.Delay > 0 {
			time.Sleep(r.cfg.Delay)
		}
	}

	if report.Total > 0 {
		report.Average = float64(scoreSum) / float64(report.Total)
	} else {
		report.MinScore = 0
	}

	if err := r.backfillIfEmpty(ctx); err != nil {
		logger.Warn("History backfill after run failed", zap.Error(err))
	}

	logger.Info("Evaluation run finished",
		zap.Int("total", report.Total),
		zap.Int("failed", report.Failed),
		zap.Float64("average_score", report.Average),
	)

	return report, nil
}

func (r *Runner) evaluateCase(ctx context.Context, c *store.Example) (judge.Verdict, error) {
	caseID := c.MetaString("case_id")
	question := c.InputString("input")
	if question == "" {
		return judge.Verdict{}, fmt.Errorf("case %s has no question", caseID)
	}

	answer, _, decision := r.answerer.Ask(ctx, question)
	verdict := r.scorer.Score(ctx, question, answer)
	now := time.Now()

	outputs := map[string]interface{}{
		"answer":               answer,
		"judge_accuracy_score": verdict.Score,
		"judge_reasoning":      verdict.Rationale,
	}
	if verdict.TraceRef != "" {
		outputs["trace_url"] = verdict.TraceRef
	}

	result := &store.Example{
		Dataset: r.cfg.ResultDataset,
		Inputs:  map[string]interface{}{"input": question},
		Outputs: outputs,
		Metadata: map[string]interface{}{
			"case_id":              caseID,
			"question":             question,
			"judge_accuracy_score": verdict.Score,
			"route":                decision.Route,
			"model_used":           r.cfg.Model,
			"judge_model":          r.cfg.JudgeModel,
			"evaluation_type":      "judge_accuracy",
		},
	}
	if err := r.store.CreateExample(ctx, result); err != nil {
		return judge.Verdict{}, fmt.Errorf("failed to persist result: %w", err)
	}

	entry := history.Entry{
		CaseID:     caseID,
		Question:   question,
		Answer:     answer,
		Score:      verdict.Score,
		Rationale:  verdict.Rationale,
		Timestamp:  now,
		TraceRef:   verdict.TraceRef,
		ModelUsed:  r.cfg.Model,
		JudgeModel: r.cfg.JudgeModel,
	}
	if err := r.history.Append(ctx, entry); err != nil {
		return judge.Verdict{}, err
	}

	return verdict, nil
}

// backfillIfEmpty reconstructs history from prior results when the history
// dataset has never been populated.
func (r *Runner) backfillIfEmpty(ctx context.Context) error {
	examples, err := r.store.ListExamples(ctx, r.cfg.HistoryDataset)
	if err != nil {
		return fmt.Errorf("failed to check history dataset: %w", err)
	}
	if len(examples) > 0 {
		return nil
	}

	results, err := r.store.ListExamples(ctx, r.cfg.ResultDataset)
	if err != nil {
		return fmt.Errorf("failed to check result dataset: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	_, err = r.history.Backfill(ctx)
	return err
}

var caseNumberPattern = regexp.MustCompile(`\d+`)

// sortCases orders cases by the first number in their case_id, ascending.
// Cases without a number sort after numbered ones, keeping their relative
// creation order.
func sortCases(cases []store.Example) {
	sort.SliceStable(cases, func(i, j int) bool {
		ni, oki := caseNumber(&cases[i])
		nj, okj := caseNumber(&cases[j])
		if oki && okj {
			return ni < nj
		}
		return oki && !okj
	})
}

func caseNumber(c *store.Example) (int, bool) {
	match := caseNumberPattern.FindString(c.MetaString("case_id"))
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}
