package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"route": "RAG"}`,
			want:    `{"route": "RAG"}`,
		},
		{
			name:    "fenced json block",
			content: "```json\n{\"score\": 4}\n```",
			want:    `{"score": 4}`,
		},
		{
			name:    "plain fence",
			content: "```\n{\"score\": 4}\n```",
			want:    `{"score": 4}`,
		},
		{
			name:    "surrounding prose",
			content: "Here is my verdict: {\"score\": 3, \"reasoning\": \"ok\"} Hope that helps.",
			want:    `{"score": 3, "reasoning": "ok"}`,
		},
		{
			name:    "no object",
			content: "I cannot answer that.",
			want:    "",
		},
		{
			name:    "empty",
			content: "",
			want:    "",
		},
		{
			name:    "unbalanced brace",
			content: "}{",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.content))
		})
	}
}
