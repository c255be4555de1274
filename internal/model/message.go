package model

import "time"

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChatID    uint      `gorm:"not null;index:idx_messages_chat_created,priority:1" json:"chat_id"`
	Sender    string    `gorm:"size:16;not null" json:"sender"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	// RawTriage is set on assistant turns only. It is serialized for the
	// history cache; HTTP handlers leave it out of user-facing payloads.
	RawTriage *string   `gorm:"type:text" json:"raw_model_response,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_messages_chat_created,priority:2" json:"timestamp"`
}

func (m *Message) IsUser() bool {
	return m.Sender == SenderUser
}
