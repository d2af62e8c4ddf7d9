package model

import "context"

// Chat roles understood by OpenAI-compatible endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a role-tagged prompt turn.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is one call to the text-generation service. Zero TopP
// means "use the server default".
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Provider is the model provider abstraction used by the generator.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
