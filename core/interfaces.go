package core

import "context"

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// LLMClient executes a single chat-completion request.
// Implementations live under llm/providers.
type LLMClient interface {
	Complete(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is one prompt (optionally with inline images) for a model.
type LLMRequest struct {
	ID        string       // caller-assigned identifier, stable across retries
	Model     string       `json:"model"`
	System    string       `json:"system,omitempty"`
	Messages  []LLMMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens"`
}

// LLMMessage is a single chat message with text and optional image parts.
type LLMMessage struct {
	Role  string    `json:"role"`
	Parts []LLMPart `json:"parts"`
}

// LLMPart is either text or an inline base64 image data URI.
type LLMPart struct {
	Text     string `json:"text,omitempty"`
	ImageURI string `json:"image_uri,omitempty"` // data:image/png;base64,...
}

// LLMResponse from an LLM client
type LLMResponse struct {
	ID      string
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage for LLM responses
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
