package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quillbase/quillbase/pkg/resilience"
)

// ChatClient produces completions via Ollama's generate API. Calls run
// through an optional circuit breaker so a struggling model server is
// not hammered with further requests.
type ChatClient struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewChatClient creates an Ollama generation client. breaker may be nil.
func NewChatClient(baseURL, model string, breaker *resilience.Breaker) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		breaker: breaker,
	}
}

type ollamaGenerateReq struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResp struct {
	Response string `json:"response"`
}

// Generate returns the model's completion for prompt. system sets the
// system message and may be empty.
func (c *ChatClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	var answer string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		answer, err = c.generate(ctx, system, prompt)
		return err
	})
	return answer, err
}

func (c *ChatClient) generate(ctx context.Context, system, prompt string) (string, error) {
	body, _ := json.Marshal(ollamaGenerateReq{
		Model:  c.model,
		System: system,
		Prompt: prompt,
		Stream: false,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("ollama generate: status %d", resp.StatusCode)
	}

	var result ollamaGenerateResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	return result.Response, nil
}
