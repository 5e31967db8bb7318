// Package memory provides the in-memory similarity index over embedded corpus
// chunks. The index is built once at startup and is read-only afterwards;
// rebuilding means discarding the whole structure and creating a new one.
package memory

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/corpus"
	"github.com/ev-agent/backend/pkg/logger"
)

type entry struct {
	embedding []float32
	chunk     corpus.Chunk
}

type Index struct {
	entries []entry
}

type SearchResult struct {
	Chunk corpus.Chunk
	Score float64
}

func NewIndex() *Index {
	return &Index{}
}

// Insert adds embedded chunks. Only called during index construction; the
// single-builder assumption is not guarded here.
func (idx *Index) Insert(embeddings [][]float32, chunks []corpus.Chunk) {
	for i := range chunks {
		idx.entries = append(idx.entries, entry{
			embedding: embeddings[i],
			chunk:     chunks[i],
		})
	}

	logger.Info("Chunks inserted into vector index", zap.Int("count", len(chunks)))
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Search returns at most k chunks ordered by non-increasing cosine similarity.
// Ties keep insertion order, which is arbitrary across rebuilds. A nil or
// empty index returns no results.
func (idx *Index) Search(queryEmbedding []float32, k int) []SearchResult {
	if idx == nil || len(idx.entries) == 0 || k <= 0 {
		return nil
	}

	results := make([]SearchResult, 0, len(idx.entries))
	for _, e := range idx.entries {
		results = append(results, SearchResult{
			Chunk: e.chunk,
			Score: cosineSimilarity(queryEmbedding, e.embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
