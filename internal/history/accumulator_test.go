package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ev-agent/backend/internal/store"
)

// memStore is an in-memory ExampleStore keeping creation order per dataset.
type memStore struct {
	examples map[string][]store.Example
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{examples: make(map[string][]store.Example)}
}

func (m *memStore) CreateExample(ctx context.Context, example *store.Example) error {
	if example.ID == "" {
		m.nextID++
		example.ID = fmt.Sprintf("ex-%d", m.nextID)
	}
	example.CreatedAt = time.Now()
	m.examples[example.Dataset] = append(m.examples[example.Dataset], *example)
	return nil
}

func (m *memStore) ListExamples(ctx context.Context, dataset string) ([]store.Example, error) {
	out := make([]store.Example, len(m.examples[dataset]))
	copy(out, m.examples[dataset])
	return out, nil
}

func (m *memStore) UpdateExample(ctx context.Context, id string, outputs map[string]interface{}) error {
	for dataset, examples := range m.examples {
		for i := range examples {
			if examples[i].ID == id {
				m.examples[dataset][i].Outputs = outputs
				m.examples[dataset][i].UpdatedAt = time.Now()
				return nil
			}
		}
	}
	return fmt.Errorf("example %s not found", id)
}

const (
	historyDataset = "QA_Judge_History"
	resultDataset  = "QA_Judge_Result"
)

func testEntry(caseID string, score int) Entry {
	return Entry{
		CaseID:     caseID,
		Question:   "배터리 수명은?",
		Answer:     "약 10년입니다.",
		Score:      score,
		Rationale:  "대체로 정확",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		TraceRef:   "cmpl-1",
		ModelUsed:  "gpt-4o",
		JudgeModel: "gpt-4o",
	}
}

func TestAppendCreatesCaseOnFirstWrite(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)

	require.NoError(t, acc.Append(context.Background(), testEntry("case_1", 4)))

	examples, err := s.ListExamples(context.Background(), historyDataset)
	require.NoError(t, err)
	require.Len(t, examples, 1)

	example := examples[0]
	assert.Equal(t, "case_1", example.MetaString("case_id"))
	assert.Equal(t, "배터리 수명은?", example.InputString("input"))
	assert.Equal(t, "judge_accuracy_history", example.MetaString("evaluation_type"))

	for _, key := range []string{"scores", "answers", "reasons", "timestamps", "trace_urls"} {
		list, ok := example.Outputs[key].([]interface{})
		require.True(t, ok, "outputs[%s] should be a list", key)
		assert.Len(t, list, 1)
	}
	assert.Equal(t, []interface{}{4}, example.Outputs["scores"])
}

func TestAppendGrowsAllListsInOrder(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)
	ctx := context.Background()

	scores := []int{4, 2, 5}
	for _, score := range scores {
		entry := testEntry("case_1", score)
		entry.Answer = fmt.Sprintf("answer for score %d", score)
		require.NoError(t, acc.Append(ctx, entry))
	}

	examples, err := s.ListExamples(ctx, historyDataset)
	require.NoError(t, err)
	require.Len(t, examples, 1, "all runs of a case share one example")

	outputs := examples[0].Outputs
	for _, key := range []string{"scores", "answers", "reasons", "timestamps", "trace_urls"} {
		list, ok := outputs[key].([]interface{})
		require.True(t, ok)
		assert.Len(t, list, len(scores), "outputs[%s] should stay aligned", key)
	}

	gotScores := outputs["scores"].([]interface{})
	for i, score := range scores {
		assert.Equal(t, score, gotScores[i])
	}
	gotAnswers := outputs["answers"].([]interface{})
	assert.Equal(t, "answer for score 2", gotAnswers[1])
}

func TestAppendSeparatesCases(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)
	ctx := context.Background()

	require.NoError(t, acc.Append(ctx, testEntry("case_1", 4)))
	require.NoError(t, acc.Append(ctx, testEntry("case_2", 1)))
	require.NoError(t, acc.Append(ctx, testEntry("case_1", 5)))

	examples, err := s.ListExamples(ctx, historyDataset)
	require.NoError(t, err)
	require.Len(t, examples, 2)

	byCase := map[string][]interface{}{}
	for i := range examples {
		byCase[examples[i].MetaString("case_id")] = examples[i].Outputs["scores"].([]interface{})
	}
	assert.Len(t, byCase["case_1"], 2)
	assert.Len(t, byCase["case_2"], 1)
}

func TestAppendRejectsEmptyCaseID(t *testing.T) {
	acc := New(newMemStore(), historyDataset, resultDataset)
	assert.Error(t, acc.Append(context.Background(), Entry{}))
}

func TestAppendRecordsMissingTraceAsEmpty(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)

	entry := testEntry("case_1", 3)
	entry.TraceRef = ""
	require.NoError(t, acc.Append(context.Background(), entry))

	examples, _ := s.ListExamples(context.Background(), historyDataset)
	traces := examples[0].Outputs["trace_urls"].([]interface{})
	require.Len(t, traces, 1)
	assert.Equal(t, "", traces[0])
}

func seedResult(t *testing.T, s *memStore, caseID string, score int) {
	t.Helper()
	err := s.CreateExample(context.Background(), &store.Example{
		Dataset: resultDataset,
		Inputs:  map[string]interface{}{"input": "질문 " + caseID},
		Outputs: map[string]interface{}{
			"answer":               "답변 " + caseID,
			"judge_accuracy_score": float64(score),
			"judge_reasoning":      "근거",
			"trace_url":            "trace-" + caseID,
		},
		Metadata: map[string]interface{}{
			"case_id":     caseID,
			"model_used":  "gpt-4o",
			"judge_model": "gpt-4o",
		},
	})
	require.NoError(t, err)
}

func TestBackfillRebuildsHistoryFromResults(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)
	ctx := context.Background()

	seedResult(t, s, "case_1", 4)
	seedResult(t, s, "case_2", 2)
	seedResult(t, s, "case_1", 5)

	appended, err := acc.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, appended)

	examples, err := s.ListExamples(ctx, historyDataset)
	require.NoError(t, err)
	require.Len(t, examples, 2)

	for i := range examples {
		if examples[i].MetaString("case_id") != "case_1" {
			continue
		}
		scores := examples[i].Outputs["scores"].([]interface{})
		require.Len(t, scores, 2)
		assert.Equal(t, 4, scores[0])
		assert.Equal(t, 5, scores[1])
	}
}

func TestBackfillIsNotIdempotent(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)
	ctx := context.Background()

	seedResult(t, s, "case_1", 4)

	_, err := acc.Backfill(ctx)
	require.NoError(t, err)
	_, err = acc.Backfill(ctx)
	require.NoError(t, err)

	examples, _ := s.ListExamples(ctx, historyDataset)
	require.Len(t, examples, 1)

	// The second pass re-appended the same result.
	scores := examples[0].Outputs["scores"].([]interface{})
	assert.Len(t, scores, 2)
}

func TestBackfillSkipsResultsWithoutCaseID(t *testing.T) {
	s := newMemStore()
	acc := New(s, historyDataset, resultDataset)
	ctx := context.Background()

	seedResult(t, s, "case_1", 4)
	require.NoError(t, s.CreateExample(ctx, &store.Example{
		Dataset: resultDataset,
		Inputs:  map[string]interface{}{"input": "고아 결과"},
		Outputs: map[string]interface{}{"answer": "무시됨"},
	}))

	appended, err := acc.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, appended)
}
