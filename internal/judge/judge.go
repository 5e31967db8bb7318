// Package judge scores answers against a fixed accuracy rubric. A judge call
// never fails the caller: every error path degrades to a zero-score verdict
// that records the cause.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/llm"
	"github.com/ev-agent/backend/internal/metrics"
	"github.com/ev-agent/backend/internal/registry"
	"github.com/ev-agent/backend/pkg/logger"
)

const (
	MinScore = 0
	MaxScore = 5
)

// fallbackSystemPrompt is used whenever the prompt registry is unreachable or
// does not know the configured prompt name.
const fallbackSystemPrompt = `당신은 전기차 QA 에이전트의 답변 정확성을 평가하는 엄격한 심사관입니다.
다음 기준으로 답변을 0점에서 5점까지 평가하세요.

5점: 완벽히 정확하고 완전한 답변
4점: 정확하지만 사소한 누락이 있는 답변
3점: 대체로 정확하나 일부 부정확한 내용이 있는 답변
2점: 부분적으로만 정확한 답변
1점: 대부분 부정확한 답변
0점: 완전히 부정확하거나 관련 없는 답변

반드시 다음 JSON 형식으로만 응답하세요:
{"score": <0-5 사이의 정수>, "reasoning": "<평가 근거>"}`

const fallbackUserPrompt = "질문: %s\n답변: %s\n\n위 답변을 평가해주세요."

var verdictSchema = jsonschema.MustCompileString("verdict.schema.json", `{
	"type": "object",
	"required": ["score", "reasoning"],
	"properties": {
		"score": {"type": "number"},
		"reasoning": {"type": "string"}
	}
}`)

// Verdict is the outcome of judging a single answer.
type Verdict struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
	TraceRef  string `json:"trace_ref,omitempty"`
}

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	JudgeModel() string
}

type PromptSource interface {
	FetchPrompt(ctx context.Context, name string) (*registry.Prompt, error)
}

type Judge struct {
	completer  Completer
	prompts    PromptSource
	promptName string
}

func New(completer Completer, prompts PromptSource, promptName string) *Judge {
	return &Judge{
		completer:  completer,
		prompts:    prompts,
		promptName: promptName,
	}
}

// Score evaluates answer against question on the accuracy rubric. It never
// returns an error; failures degrade to a zero-score verdict whose rationale
// names the cause.
func (j *Judge) Score(ctx context.Context, question, answer string) Verdict {
	system, user := j.resolvePrompt(ctx)

	resp, err := j.completer.Complete(ctx, llm.CompletionRequest{
		Model:        j.completer.JudgeModel(),
		SystemPrompt: system,
		UserPrompt:   fmt.Sprintf(user, question, answer),
	})
	if err != nil {
		return j.failed("judge call failed", err)
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		return j.failed("judge output unusable", err)
	}
	verdict.TraceRef = resp.ID

	metrics.JudgeScores.Observe(float64(verdict.Score))
	logger.Debug("Answer judged",
		zap.Int("score", verdict.Score),
		zap.String("trace_ref", verdict.TraceRef),
	)

	return verdict
}

// resolvePrompt returns the system and user templates, preferring the registry
// copy and falling back to the baked-in rubric.
func (j *Judge) resolvePrompt(ctx context.Context) (string, string) {
	if j.prompts == nil || j.promptName == "" {
		return fallbackSystemPrompt, fallbackUserPrompt
	}

	prompt, err := j.prompts.FetchPrompt(ctx, j.promptName)
	if err != nil {
		if err != registry.ErrNotConfigured {
			logger.Warn("Prompt registry lookup failed, using built-in rubric",
				zap.String("prompt", j.promptName),
				zap.Error(err),
			)
		}
		return fallbackSystemPrompt, fallbackUserPrompt
	}
	return prompt.System, prompt.User
}

func (j *Judge) failed(cause string, err error) Verdict {
	metrics.JudgeFailuresTotal.Inc()
	logger.Warn("Judge degraded to zero score", zap.String("cause", cause), zap.Error(err))
	return Verdict{
		Score:     MinScore,
		Rationale: fmt.Sprintf("evaluation failed: %s: %v", cause, err),
	}
}

func parseVerdict(content string) (Verdict, error) {
	raw := llm.ExtractJSONObject(content)
	if raw == "" {
		return Verdict{}, fmt.Errorf("no JSON object in judge output")
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse judge output: %w", err)
	}
	if err := verdictSchema.Validate(payload); err != nil {
		return Verdict{}, fmt.Errorf("judge output failed schema validation: %w", err)
	}

	var parsed struct {
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse judge output: %w", err)
	}

	score := int(math.Trunc(parsed.Score))
	rationale := strings.TrimSpace(parsed.Reasoning)
	if score < MinScore || score > MaxScore {
		logger.Warn("Judge score out of range, clamping to zero", zap.Int("score", score))
		score = MinScore
		rationale = fmt.Sprintf("score out of range; %s", rationale)
	}

	return Verdict{Score: score, Rationale: rationale}, nil
}
