package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompts/accuracy_judge_prompt", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "accuracy_judge_prompt", "system": "rubric", "user": "Q: %s A: %s"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5)
	prompt, err := client.FetchPrompt(context.Background(), "accuracy_judge_prompt")

	require.NoError(t, err)
	assert.Equal(t, "accuracy_judge_prompt", prompt.Name)
	assert.Equal(t, "rubric", prompt.System)
	assert.Equal(t, "Q: %s A: %s", prompt.User)
}

func TestFetchPromptNotConfigured(t *testing.T) {
	client := NewClient("", "", 5)

	_, err := client.FetchPrompt(context.Background(), "accuracy_judge_prompt")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchPromptServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5)
	_, err := client.FetchPrompt(context.Background(), "missing_prompt")
	assert.Error(t, err)
}

func TestFetchPromptMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5)
	_, err := client.FetchPrompt(context.Background(), "accuracy_judge_prompt")
	assert.Error(t, err)
}

func TestFetchPromptMissingTemplateFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": "accuracy_judge_prompt"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5)
	_, err := client.FetchPrompt(context.Background(), "accuracy_judge_prompt")
	assert.Error(t, err)
}
