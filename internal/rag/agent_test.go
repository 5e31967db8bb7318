package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ev-agent/backend/internal/llm"
)

type fakeEmbedder struct {
	batchCalls int
	queryVec   []float32
	err        error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.queryVec, nil
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	// One axis-aligned unit vector per chunk, in corpus order.
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, len(texts))
		vec[i] = 1
		out[i] = vec
	}
	return out, nil
}

type fakeCompleter struct {
	lastReq llm.CompletionRequest
	content string
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{ID: "cmpl-1", Content: f.content}, nil
}

func writeCorpus(t *testing.T, texts ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(texts))
	for i, text := range texts {
		paths[i] = filepath.Join(dir, fmt.Sprintf("doc%d.md", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(text), 0o644))
	}
	return paths
}

func TestAnswerWithEmptyCorpus(t *testing.T) {
	agent := NewAgent(Config{Paths: nil}, &fakeEmbedder{}, &fakeCompleter{}, nil)

	answer, citations, err := agent.Answer(context.Background(), "배터리 수명은?")

	require.NoError(t, err)
	assert.Equal(t, NoKnowledgeAnswer, answer)
	assert.Nil(t, citations)
}

func TestAnswerWithMissingFiles(t *testing.T) {
	agent := NewAgent(Config{
		Paths: []string{"/nonexistent/tesla.md"},
	}, &fakeEmbedder{}, &fakeCompleter{}, nil)

	answer, _, err := agent.Answer(context.Background(), "배터리 수명은?")

	require.NoError(t, err)
	assert.Equal(t, NoKnowledgeAnswer, answer)
}

func TestAnswerComposesCitedAnswer(t *testing.T) {
	paths := writeCorpus(t,
		"테슬라 모델 Y 주행거리는 511km입니다",
		"리비안 R1T는 픽업트럭입니다",
	)

	embedder := &fakeEmbedder{queryVec: []float32{1, 0}}
	completer := &fakeCompleter{content: "주행거리는 511km입니다. [1]"}
	agent := NewAgent(Config{Paths: paths, ChunkSize: 1000, TopK: 2}, embedder, completer, nil)

	answer, citations, err := agent.Answer(context.Background(), "모델 Y 주행거리는?")

	require.NoError(t, err)
	assert.Equal(t, "주행거리는 511km입니다. [1]", answer)

	// The full retrieved set comes back, not only the ranks cited inline.
	require.Len(t, citations, 2)
	assert.Equal(t, 1, citations[0].Rank)
	assert.Equal(t, "doc0.md", citations[0].Source)
	assert.Equal(t, 2, citations[1].Rank)
	assert.Equal(t, "doc1.md", citations[1].Source)

	assert.Contains(t, completer.lastReq.UserPrompt, "질문: 모델 Y 주행거리는?")
	assert.Contains(t, completer.lastReq.UserPrompt, "[1] 테슬라 모델 Y 주행거리는 511km입니다")
	assert.Contains(t, completer.lastReq.UserPrompt, "[2] 리비안 R1T는 픽업트럭입니다")
}

func TestAnswerRanksByQuerySimilarity(t *testing.T) {
	paths := writeCorpus(t, "first chunk text", "second chunk text")

	// Query embedding aligned with the second chunk.
	embedder := &fakeEmbedder{queryVec: []float32{0, 1}}
	completer := &fakeCompleter{content: "answer [1]"}
	agent := NewAgent(Config{Paths: paths, ChunkSize: 1000, TopK: 1}, embedder, completer, nil)

	_, citations, err := agent.Answer(context.Background(), "query")

	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Equal(t, "doc1.md", citations[0].Source)
}

func TestAnswerCompleterFailure(t *testing.T) {
	paths := writeCorpus(t, "some corpus text")

	embedder := &fakeEmbedder{queryVec: []float32{1}}
	completer := &fakeCompleter{err: errors.New("upstream unavailable")}
	agent := NewAgent(Config{Paths: paths, ChunkSize: 1000}, embedder, completer, nil)

	_, _, err := agent.Answer(context.Background(), "query")

	assert.Error(t, err)
}

func TestIndexBuildsExactlyOnce(t *testing.T) {
	paths := writeCorpus(t, "some corpus text")

	embedder := &fakeEmbedder{queryVec: []float32{1}}
	completer := &fakeCompleter{content: "answer [1]"}
	agent := NewAgent(Config{Paths: paths, ChunkSize: 1000}, embedder, completer, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := agent.Answer(ctx, "query")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, embedder.batchCalls, "the corpus index must be built once per process")
}

func TestFailedIndexBuildStaysEmpty(t *testing.T) {
	paths := writeCorpus(t, "some corpus text")

	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	agent := NewAgent(Config{Paths: paths, ChunkSize: 1000}, embedder, &fakeCompleter{}, nil)

	ctx := context.Background()
	answer, _, err := agent.Answer(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, NoKnowledgeAnswer, answer)

	// The failed build is not retried; later queries see the same empty state.
	embedder.err = nil
	answer, _, err = agent.Answer(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, NoKnowledgeAnswer, answer)
	assert.Equal(t, 1, embedder.batchCalls)
}
