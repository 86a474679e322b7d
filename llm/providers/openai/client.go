// Package openai implements the chat-completions and batch interfaces
// against an OpenAI-compatible API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm/providers"
)

// Client implements core.LLMClient for OpenAI-compatible endpoints
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates a new client. baseURL defaults to the public API.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseClient: providers.NewBaseClient(timeout, logger),
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// buildChatRequest converts the pipeline request to the wire format
func buildChatRequest(req *core.LLMRequest) chatRequest {
	out := chatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{
			Role:    "system",
			Content: []contentPart{{Type: "text", Text: req.System}},
		})
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: m.Role}
		for _, p := range m.Parts {
			if p.Text != "" {
				cm.Content = append(cm.Content, contentPart{Type: "text", Text: p.Text})
			}
			if p.ImageURI != "" {
				cm.Content = append(cm.Content, contentPart{
					Type:     "image_url",
					ImageURL: &imageURL{URL: p.ImageURI},
				})
			}
		}
		out.Messages = append(out.Messages, cm)
	}
	return out
}

// Complete executes one chat-completion call
func (c *Client) Complete(ctx context.Context, req *core.LLMRequest) (*core.LLMResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	wire := buildChatRequest(req)

	promptLen := 0
	images := 0
	for _, m := range wire.Messages {
		for _, p := range m.Content {
			promptLen += len(p.Text)
			if p.ImageURL != nil {
				images++
			}
		}
	}
	c.LogRequest("openai", req.Model, promptLen, images)
	startTime := time.Now()

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.Do(ctx, func() (*http.Request, error) {
		r, reqErr := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if reqErr != nil {
			return nil, reqErr
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v: %w", err, core.ErrTransientRemote)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.HandleError("openai", resp, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %v: %w", err, core.ErrParse)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response: %w", core.ErrParse)
	}

	result := &core.LLMResponse{
		ID:      req.ID,
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}

	c.LogResponse("openai", result.Model, result.Usage, time.Since(startTime))
	return result, nil
}
