package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	cmdpkg "github.com/stupiduntilnot/longrelay/internal/commander"
)

// DefaultAPIBase is the public Bot API host; the token is appended as "/bot<token>".
const DefaultAPIBase = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>"). requestTimeout must exceed
// the long-poll timeout.
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is a response with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: status=%d code=%d: %s", e.Method, e.StatusCode, e.ErrorCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

// GetUpdates calls the getUpdates API. Updates other than messages (edits,
// channel posts, callbacks) are returned with a nil Message so the caller can
// still advance its offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request: %w", err)
	}
	result, err := c.do(req, "getUpdates")
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	return updates, nil
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// SendMessage sends text unmodified; callers keep it within the platform
// limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("telegram sendMessage encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, "sendMessage")
	return err
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{Method: method, StatusCode: resp.StatusCode, Description: truncate(string(body), 300)}
		}
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if !tgResp.OK || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   tgResp.ErrorCode,
			Description: tgResp.Description,
		}
	}
	return tgResp.Result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
