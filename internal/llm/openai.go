package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	mistralBaseURL    = "https://api.mistral.ai/v1"
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// openAIAliases pins the short model names to dated snapshots.
var openAIAliases = map[string]string{
	"gpt-4":   "gpt-4-0125-preview",
	"gpt-4o":  "gpt-4o-2024-05-13",
	"gpt-3.5": "gpt-3.5-turbo-0125",
}

// ChatClient speaks the OpenAI /chat/completions dialect shared by OpenAI,
// Mistral, DeepSeek and OpenRouter.
type ChatClient struct {
	name     string
	apiKey   string
	baseURL  string
	headers  map[string]string
	extra    map[string]interface{}
	mapModel func(string) string
	client   *http.Client
}

func newChatClient(name, apiKey, baseURL, defaultBaseURL string) *ChatClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &ChatClient{
		name:     name,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  map[string]string{},
		extra:    map[string]interface{}{},
		mapModel: func(m string) string { return m },
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func NewOpenAIClient(apiKey, baseURL string) *ChatClient {
	c := newChatClient("openai", apiKey, baseURL, openAIBaseURL)
	c.mapModel = func(m string) string {
		if actual, ok := openAIAliases[m]; ok {
			return actual
		}
		return m
	}
	return c
}

func NewMistralClient(apiKey, baseURL string) *ChatClient {
	c := newChatClient("mistral", apiKey, baseURL, mistralBaseURL)
	c.extra["safe_prompt"] = true
	return c
}

func NewDeepSeekClient(apiKey, baseURL string) *ChatClient {
	return newChatClient("deepseek", apiKey, baseURL, deepSeekBaseURL)
}

func NewOpenRouterClient(apiKey, baseURL string) *ChatClient {
	c := newChatClient("openrouter", apiKey, baseURL, openRouterBaseURL)
	c.headers["HTTP-Referer"] = "https://llmvalues.local"
	c.headers["X-Title"] = "llmvalues"
	c.mapModel = func(m string) string { return strings.TrimPrefix(m, "openrouter/") }
	return c
}

func (c *ChatClient) Name() string {
	return c.name
}

func (c *ChatClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%s API key required", c.name)
	}

	body := map[string]interface{}{
		"model":       c.mapModel(req.Model),
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	for k, v := range c.extra {
		body[k] = v
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%s API returned status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", c.name)
	}

	return chatResp.Choices[0].Message.Content, nil
}
