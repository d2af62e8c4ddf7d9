package commander

import (
	"context"
	"strings"
)

// Commander is the chat transport used by the listener.
type Commander interface {
	Sender
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
}

// Sender delivers a single text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message. Text is nil for non-text messages
// (stickers, photos, joins).
type Message struct {
	Chat Chat    `json:"chat"`
	Text *string `json:"text,omitempty"`
	Date int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// CommandPrefix marks bot commands, which the relay never forwards.
const CommandPrefix = "/"

// PlainText returns the message text when it should be relayed: present,
// non-empty and not a command.
func (m *Message) PlainText() (string, bool) {
	if m == nil || m.Text == nil {
		return "", false
	}
	text := *m.Text
	if text == "" || strings.HasPrefix(text, CommandPrefix) {
		return "", false
	}
	return text, true
}
