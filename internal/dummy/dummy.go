// Package dummy provides scripted stand-ins for the chat transport and the
// completion API, for local runs and tests.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted:
//
//	ok            empty poll / successful send / "dummy-ok" reply
//	err:CLASS     fail with an error mentioning CLASS
//	sleep:MS      wait MS milliseconds (or until the context ends)
//	msg:TEXT      deliver TEXT as a message / reply with TEXT
//	msgb64:B64    same as msg with base64 text
//	len:N         reply with N runes, reported as truncated (provider only)
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/longrelay/internal/commander"
	"github.com/stupiduntilnot/longrelay/internal/model"
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "sleep", "msg", "msgb64", "len"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		a, err := parseAction(token)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

func parseAction(token string) (action, error) {
	for _, kind := range actionKinds {
		arg, ok := strings.CutPrefix(token, kind+":")
		if !ok {
			continue
		}
		if kind == "len" || kind == "sleep" {
			if n, err := strconv.Atoi(arg); err != nil || n < 0 {
				return action{}, fmt.Errorf("invalid dummy action %s: want a non-negative number", token)
			}
		}
		return action{kind: kind, arg: arg}, nil
	}
	return action{}, fmt.Errorf("invalid dummy action: %s", token)
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sleepArg(arg string) time.Duration {
	ms, _ := strconv.Atoi(arg)
	return time.Duration(ms) * time.Millisecond
}

// SentMessage is one message passed to Commander.SendMessage.
type SentMessage struct {
	ChatID int64
	Text   string
}

// Commander is a scripted chat transport. Scripted messages arrive from
// chat 1.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []SentMessage
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send}, nil
}

// GetUpdates runs the next poll action. An empty poll waits for the
// long-poll timeout like the real API does.
func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, wait(ctx, sleepArg(a.arg))
	case "msg":
		return c.deliver(offset, a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return c.deliver(offset, string(raw)), nil
	default:
		return nil, wait(ctx, time.Duration(timeout)*time.Second)
	}
}

func (c *Commander) deliver(offset int64, text string) []cmdpkg.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateID < offset {
		c.updateID = offset - 1
	}
	c.updateID++
	return []cmdpkg.Update{{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			Chat: cmdpkg.Chat{ID: 1},
			Text: &text,
			Date: time.Now().Unix(),
		},
	}}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := wait(ctx, sleepArg(a.arg)); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, SentMessage{ChatID: chatID, Text: text})
	c.mu.Unlock()
	return nil
}

// Sent returns the messages sent so far.
func (c *Commander) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

// Provider is a scripted completion API.
type Provider struct {
	mu       sync.Mutex
	script   *scriptRunner
	requests []model.CompletionRequest
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

func (p *Provider) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	resp := model.CompletionResponse{
		Content:      "dummy-ok",
		FinishReason: "stop",
		InputTokens:  1,
		OutputTokens: 1,
	}
	switch a.kind {
	case "err":
		return model.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := wait(ctx, sleepArg(a.arg)); err != nil {
			return model.CompletionResponse{}, err
		}
		resp.Content = "dummy-after-sleep"
	case "msg":
		resp.Content = a.arg
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return model.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		resp.Content = string(raw)
	case "len":
		n, _ := strconv.Atoi(a.arg)
		resp.Content = strings.Repeat("x", n)
		resp.FinishReason = "length"
		resp.OutputTokens = n
	}
	return resp, nil
}

// Calls returns the number of Complete calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []model.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.CompletionRequest(nil), p.requests...)
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
