// Package router decides, per incoming question, whether to answer through
// retrieval-grounded generation or plain chat.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/llm"
	"github.com/ev-agent/backend/internal/metrics"
	"github.com/ev-agent/backend/internal/rag"
	"github.com/ev-agent/backend/pkg/logger"
)

const (
	RouteRAG  = "RAG"
	RouteCHAT = "CHAT"
)

// AnswerFailed is the degraded answer used when the selected path errors out.
const AnswerFailed = "답변 생성에 실패했습니다."

// Decision is ephemeral, computed per query and never persisted.
type Decision struct {
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
}

// classifierSchema accepts the strict shape the classifier is instructed to
// emit. The route enum is checked in code so a wrong value can be forced to
// CHAT while keeping the reported confidence.
var classifierSchema = jsonschema.MustCompileString("route.schema.json", `{
	"type": "object",
	"required": ["route"],
	"properties": {
		"route": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

type Classifier interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type ChatClient interface {
	ChatAnswer(ctx context.Context, question string) (string, error)
}

type Answerer interface {
	Answer(ctx context.Context, query string) (string, []rag.Citation, error)
}

type Router struct {
	keywords   []string
	classifier Classifier
	chat       ChatClient
	agent      Answerer
}

func New(keywords []string, classifier Classifier, chat ChatClient, agent Answerer) *Router {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &Router{
		keywords:   lowered,
		classifier: classifier,
		chat:       chat,
		agent:      agent,
	}
}

// Decide resolves the route for a query. The keyword stage is an unconditional
// override: on a hit the classifier is never invoked. Classifier failures of
// any kind degrade to CHAT with confidence 0; Decide never returns an error.
func (r *Router) Decide(ctx context.Context, query string) Decision {
	lowered := strings.ToLower(query)
	for _, kw := range r.keywords {
		if strings.Contains(lowered, kw) {
			metrics.RouteTotal.WithLabelValues(RouteRAG, "keyword").Inc()
			logger.Debug("Keyword route hit", zap.String("keyword", kw))
			return Decision{Route: RouteRAG, Confidence: 1.0}
		}
	}

	decision := r.classify(ctx, query)
	metrics.RouteTotal.WithLabelValues(decision.Route, "classifier").Inc()
	return decision
}

func (r *Router) classify(ctx context.Context, query string) Decision {
	fallback := Decision{Route: RouteCHAT, Confidence: 0.0}

	resp, err := r.classifier.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a routing classifier for an electric vehicle QA agent.\n" +
			"- Questions about EVs, batteries, charging, range, or the Tesla/Rivian " +
			"model lineup must be routed to 'RAG'.\n" +
			"- Small talk, weather, calendar, math, and other everyday questions go to 'CHAT'.\n" +
			"Output JSON only.",
		UserPrompt: "질문: " + query + "\n\n" +
			`JSON 형식: {"route": "RAG|CHAT", "confidence": 0..1}`,
		MaxTokens: 100,
	})
	if err != nil {
		metrics.RouteFallbackTotal.Inc()
		logger.Warn("Route classifier call failed, falling back to CHAT", zap.Error(err))
		return fallback
	}

	raw := llm.ExtractJSONObject(resp.Content)
	if raw == "" {
		metrics.RouteFallbackTotal.Inc()
		logger.Warn("Route classifier returned no JSON object")
		return fallback
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		metrics.RouteFallbackTotal.Inc()
		logger.Warn("Route classifier returned malformed JSON", zap.Error(err))
		return fallback
	}
	if err := classifierSchema.Validate(payload); err != nil {
		metrics.RouteFallbackTotal.Inc()
		logger.Warn("Route classifier output failed schema validation", zap.Error(err))
		return fallback
	}

	var parsed struct {
		Route      string  `json:"route"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		metrics.RouteFallbackTotal.Inc()
		return fallback
	}

	route := strings.ToUpper(parsed.Route)
	if route != RouteRAG && route != RouteCHAT {
		route = RouteCHAT
	}

	return Decision{Route: route, Confidence: parsed.Confidence}
}

// Ask routes the query and answers it on the decided path. Failures on either
// path degrade to a fixed answer; Ask never returns an error.
func (r *Router) Ask(ctx context.Context, query string) (string, []rag.Citation, Decision) {
	start := time.Now()
	decision := r.Decide(ctx, query)
	defer func() {
		metrics.QueryDuration.WithLabelValues(decision.Route).Observe(time.Since(start).Seconds())
	}()

	if decision.Route == RouteRAG {
		answer, citations, err := r.agent.Answer(ctx, query)
		if err != nil {
			logger.Warn("RAG answer failed", zap.Error(err))
			return AnswerFailed, nil, decision
		}
		return answer, citations, decision
	}

	answer, err := r.chat.ChatAnswer(ctx, query)
	if err != nil {
		logger.Warn("Chat answer failed", zap.Error(err))
		return AnswerFailed, nil, decision
	}
	return answer, nil, decision
}
