// Package registry fetches named prompt templates from an external prompt
// registry. Callers must tolerate every failure here; the judge carries a
// baked-in fallback rubric for exactly that case.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ev-agent/backend/pkg/logger"
)

// ErrNotConfigured is returned when no registry endpoint is set.
var ErrNotConfigured = errors.New("prompt registry not configured")

// Prompt is the narrow slice of the registry's response this system consumes.
type Prompt struct {
	Name   string `json:"name"`
	System string `json:"system"`
	User   string `json:"user"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

// FetchPrompt retrieves a prompt template by name.
func (c *Client) FetchPrompt(ctx context.Context, name string) (*Prompt, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/prompts/%s", c.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch prompt: registry returned status %d", resp.StatusCode)
	}

	var prompt Prompt
	if err := json.NewDecoder(resp.Body).Decode(&prompt); err != nil {
		return nil, fmt.Errorf("failed to decode prompt: %w", err)
	}
	if prompt.System == "" || prompt.User == "" {
		return nil, fmt.Errorf("failed to fetch prompt: registry response missing template fields")
	}

	logger.Info("Prompt loaded from registry", zap.String("prompt", name))

	return &prompt, nil
}
