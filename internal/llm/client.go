package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/pkg/logger"
)

// Sending a literal zero would be dropped by the wire encoding and fall back to
// the service default, so deterministic calls use the smallest encodable value.
const DeterministicTemperature float32 = math.SmallestNonzeroFloat32

type Client struct {
	client          *openai.Client
	model           string
	judgeModel      string
	embeddingModel  string
	chatTemperature float32
	maxTokens       int
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	ID      string
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model, judgeModel, embeddingModel string, chatTemperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("judge_model", judgeModel),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:          client,
		model:           model,
		judgeModel:      judgeModel,
		embeddingModel:  embeddingModel,
		chatTemperature: chatTemperature,
		maxTokens:       maxTokens,
	}
}

func (c *Client) Model() string      { return c.model }
func (c *Client) JudgeModel() string { return c.judgeModel }

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = DeterministicTemperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion: %w", err)
	}

	logger.Debug("LLM completion generated",
		zap.String("model", model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &CompletionResponse{
		ID:      resp.ID,
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatAnswer is the non-retrieval conversational path.
func (c *Client) ChatAnswer(ctx context.Context, question string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: "You are a friendly assistant. The question is not about electric " +
			"vehicles, so hold an ordinary conversation and answer in the user's language.",
		UserPrompt:  question,
		Temperature: c.chatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate chat answer: %w", err)
	}
	return resp.Content, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	embedding := make([]float32, len(resp.Data[0].Embedding))
	copy(embedding, resp.Data[0].Embedding)

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := c.client.CreateEmbeddings(
			ctx,
			openai.EmbeddingRequest{
				Input: texts[i:end],
				Model: openai.EmbeddingModel(c.embeddingModel),
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to generate batch embeddings: %w", err)
		}

		for _, data := range resp.Data {
			embedding := make([]float32, len(data.Embedding))
			copy(embedding, data.Embedding)
			embeddings = append(embeddings, embedding)
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}
