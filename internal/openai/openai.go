// Package openai talks to OpenAI-compatible chat completion endpoints (OpenAI,
// Groq, local gateways) through github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/stupiduntilnot/longrelay/internal/model"
)

// DefaultBaseURL is Groq's OpenAI-compatible API root.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// ErrNoChoices is returned when a 2xx response carries no choices.
var ErrNoChoices = errors.New("openai: no choices in response")

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a chat completions client.
type Client struct {
	api     *goopenai.Client
	baseURL string
	model   string
}

type Option func(*goopenai.ClientConfig)

// WithHTTPClient replaces the default timeout-bound HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *goopenai.ClientConfig) {
		cfg.HTTPClient = hc
	}
}

// NewClient creates a client for baseURL. model is used for requests that do
// not name one.
func NewClient(apiKey, baseURL, model string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		api:     goopenai.NewClientWithConfig(cfg),
		baseURL: baseURL,
		model:   model,
	}
}

// Complete sends one chat completion request and returns the first choice.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return model.CompletionResponse{}, c.translateError(err)
	}
	if len(resp.Choices) == 0 {
		return model.CompletionResponse{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	return model.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) translateError(err error) error {
	url := c.baseURL + "/chat/completions"

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{
			StatusCode: apiErr.HTTPStatusCode,
			URL:        url,
			Body:       truncate(apiErr.Message, 400),
			Err:        err,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = truncate(reqErr.Err.Error(), 400)
		}
		return &HTTPStatusError{
			StatusCode: reqErr.HTTPStatusCode,
			URL:        url,
			Body:       body,
			Err:        err,
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
