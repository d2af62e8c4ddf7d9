// Package prompt builds the role-tagged turns sent to the completion API.
package prompt

import (
	"strings"

	"github.com/stupiduntilnot/longrelay/internal/model"
)

// Prompts holds the fixed instructions of the continuation loop.
type Prompts struct {
	// System demands exhaustive, long-form, structured output.
	System string `yaml:"system"`
	// Elaborate is appended to the user's text on the first attempt.
	Elaborate string `yaml:"elaborate"`
	// Continue is the whole user turn of every later attempt.
	Continue string `yaml:"continue"`
}

// Default returns the built-in instructions.
func Default() Prompts {
	return Prompts{
		System: "You are a meticulous expert writer. Always answer exhaustively, in long-form, " +
			"well-structured text with headings, numbered sections and examples where useful. " +
			"Never summarize, never shorten and never skip details.",
		Elaborate: "Explain this in as much depth and length as possible.",
		Continue:  "Continue exactly where you stopped. Do not repeat anything you already wrote.",
	}
}

// Merge returns p with empty fields filled from fallback.
func (p Prompts) Merge(fallback Prompts) Prompts {
	if strings.TrimSpace(p.System) == "" {
		p.System = fallback.System
	}
	if strings.TrimSpace(p.Elaborate) == "" {
		p.Elaborate = fallback.Elaborate
	}
	if strings.TrimSpace(p.Continue) == "" {
		p.Continue = fallback.Continue
	}
	return p
}

// FirstTurn is the user turn of the first attempt.
func (p Prompts) FirstTurn(userText string) string {
	return userText + "\n\n" + p.Elaborate
}

// Turns builds the message list for the given attempt (1-based). When sofar
// is non-nil the original question and the text generated so far are sent
// as history so the model can pick up its own thread.
func (p Prompts) Turns(a Assembler, attempt int, userText string, sofar *string) []model.Message {
	if attempt <= 1 {
		return a.Assemble(p.System, nil, p.FirstTurn(userText))
	}
	var history []model.Message
	if sofar != nil {
		history = []model.Message{
			{Role: model.RoleUser, Content: p.FirstTurn(userText)},
			{Role: model.RoleAssistant, Content: *sofar},
		}
	}
	return a.Assemble(p.System, history, p.Continue)
}
