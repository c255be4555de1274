package app

import (
	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
)

const DefaultContextWindow = 7

// ContextWindow renders the most recent turns of a chat as transcript lines.
type ContextWindow struct {
	messages MessageStore
	size     int
}

func NewContextWindow(messages MessageStore, size int) *ContextWindow {
	if size <= 0 {
		size = DefaultContextWindow
	}
	return &ContextWindow{messages: messages, size: size}
}

// Build returns at most size lines, oldest first. The store is read newest
// first and the result reversed.
func (w *ContextWindow) Build(dbc dbctx.Context, chatID uint) ([]string, error) {
	recent, err := w.messages.ListRecent(dbc, chatID, w.size)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(recent))
	for i := range recent {
		lines[len(recent)-1-i] = RenderTurn(recent[i])
	}
	return lines, nil
}

func RenderTurn(m model.Message) string {
	role := model.SenderAssistant
	if m.IsUser() {
		role = model.SenderUser
	}
	return role + ": " + m.Text
}
