// Package rag owns the corpus index singleton and composes grounded, cited
// answers from retrieved chunks.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/cache/redis"
	"github.com/ev-agent/backend/internal/corpus"
	"github.com/ev-agent/backend/internal/llm"
	"github.com/ev-agent/backend/internal/metrics"
	"github.com/ev-agent/backend/internal/vector/memory"
	"github.com/ev-agent/backend/pkg/logger"
	"github.com/ev-agent/backend/pkg/utils"
)

// NoKnowledgeAnswer is returned when the corpus produced no index at all.
const NoKnowledgeAnswer = "지식 베이스가 비어 있어 답변할 수 없습니다."

const cacheTTL = 24 * time.Hour

// Citation points at a retrieved chunk by its 1-based rank in the context
// block handed to the model.
type Citation struct {
	Rank    int    `json:"rank"`
	Source  string `json:"source"`
	ChunkID int    `json:"chunk_id"`
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Config struct {
	Paths        []string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Agent holds the process-wide index. The index is built lazily on first use
// and is read-only afterwards; sync.Once makes concurrent first callers wait
// for the same build instead of racing.
type Agent struct {
	cfg       Config
	embedder  Embedder
	completer Completer
	cache     *redis.Client

	buildOnce sync.Once
	index     *memory.Index
}

type cachedAnswer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

func NewAgent(cfg Config, embedder Embedder, completer Completer, cache *redis.Client) *Agent {
	if cfg.TopK <= 0 {
		cfg.TopK = 6
	}
	return &Agent{
		cfg:       cfg,
		embedder:  embedder,
		completer: completer,
		cache:     cache,
	}
}

func (a *Agent) ensureIndex(ctx context.Context) *memory.Index {
	a.buildOnce.Do(func() {
		a.index = a.buildIndex(ctx)
	})
	return a.index
}

// buildIndex runs exactly once per process. A nil result is the explicit
// "no knowledge base" state, not an error.
func (a *Agent) buildIndex(ctx context.Context) *memory.Index {
	docs := corpus.LoadDocuments(a.cfg.Paths)

	chunker := corpus.NewChunker(a.cfg.ChunkSize, a.cfg.ChunkOverlap)
	chunks := chunker.SplitAll(docs)
	if len(chunks) == 0 {
		logger.Warn("No chunks produced from corpus, retrieval disabled")
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := a.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		logger.Error("Failed to embed corpus chunks, retrieval disabled", zap.Error(err))
		return nil
	}
	if len(embeddings) != len(chunks) {
		logger.Error("Embedding count mismatch, retrieval disabled",
			zap.Int("embeddings", len(embeddings)),
			zap.Int("chunks", len(chunks)),
		)
		return nil
	}

	index := memory.NewIndex()
	index.Insert(embeddings, chunks)

	metrics.IndexChunksTotal.Set(float64(index.Len()))
	logger.Info("Corpus index built",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", index.Len()),
	)

	return index
}

// Answer retrieves the top chunks for the query and composes a cited answer.
// The returned citation list is the full retrieved set, whether or not the
// model referenced every rank inline.
func (a *Agent) Answer(ctx context.Context, query string) (string, []Citation, error) {
	index := a.ensureIndex(ctx)
	if index.Len() == 0 {
		return NoKnowledgeAnswer, nil, nil
	}

	queryHash := utils.HashString(query)
	if a.cache != nil {
		var cached cachedAnswer
		if hit, err := a.cache.GetAnswer(ctx, queryHash, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			return cached.Answer, cached.Citations, nil
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	embedding, err := a.embedQuery(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results := index.Search(embedding, a.cfg.TopK)
	metrics.RetrievalResultsCount.Observe(float64(len(results)))
	if len(results) == 0 {
		return NoKnowledgeAnswer, nil, nil
	}

	contextBlock, citations := buildContext(results)

	resp, err := a.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a RAG assistant for the electric vehicle domain. Answer " +
			"ONLY from the supplied context and in the user's language. If the context " +
			"does not contain the answer, say you do not know. End the answer with the " +
			"bracketed ranks of the sources you used, e.g. [1][2].",
		UserPrompt: fmt.Sprintf("질문: %s\n\n컨텍스트:\n%s", query, contextBlock),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to compose answer: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)

	if a.cache != nil {
		if err := a.cache.SetAnswer(ctx, queryHash, cachedAnswer{Answer: answer, Citations: citations}, cacheTTL); err != nil {
			logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	return answer, citations, nil
}

func (a *Agent) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if a.cache == nil {
		return a.embedder.GenerateEmbedding(ctx, query)
	}

	textHash := utils.HashString(query)
	if embedding, hit, err := a.cache.GetEmbedding(ctx, textHash); err == nil && hit {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return embedding, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	embedding, err := a.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := a.cache.SetEmbedding(ctx, textHash, embedding, cacheTTL); err != nil {
		logger.Warn("Failed to cache embedding", zap.Error(err))
	}

	return embedding, nil
}

func buildContext(results []memory.SearchResult) (string, []Citation) {
	var builder strings.Builder
	citations := make([]Citation, 0, len(results))

	for i, result := range results {
		rank := i + 1
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("[%d] %s", rank, result.Chunk.Text))

		citations = append(citations, Citation{
			Rank:    rank,
			Source:  result.Chunk.Source,
			ChunkID: result.Chunk.ChunkID,
		})
	}

	return builder.String(), citations
}
