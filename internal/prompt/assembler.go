package prompt

import "github.com/stupiduntilnot/longrelay/internal/model"

// Assembler combines system prompt, history, and user message into a final message list.
type Assembler interface {
	Assemble(system string, history []model.Message, userMsg string) []model.Message
}

// StandardAssembler combines system prompt, history, and user message
// into a single ordered message list.
type StandardAssembler struct{}

// Assemble builds the final message list: system + history + user.
func (a *StandardAssembler) Assemble(system string, history []model.Message, userMsg string) []model.Message {
	messages := make([]model.Message, 0, 1+len(history)+1)
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: userMsg})
	return messages
}
