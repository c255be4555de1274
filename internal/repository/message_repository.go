package repository

import (
	"fmt"

	"gorm.io/gorm"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(dbc dbctx.Context, message *model.Message) error {
	if err := pick(r.db, dbc).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListByChatID returns every message of the chat, oldest first.
func (r *MessageRepository) ListByChatID(dbc dbctx.Context, chatID uint) ([]model.Message, error) {
	var messages []model.Message
	if err := pick(r.db, dbc).Where("chat_id = ?", chatID).Order("created_at ASC").Order("id ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecent returns up to limit messages of the chat, newest first.
func (r *MessageRepository) ListRecent(dbc dbctx.Context, chatID uint, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []model.Message
	if err := pick(r.db, dbc).Where("chat_id = ?", chatID).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	return messages, nil
}

// Latest returns the newest message of the chat, or nil when it has none.
func (r *MessageRepository) Latest(dbc dbctx.Context, chatID uint) (*model.Message, error) {
	messages, err := r.ListRecent(dbc, chatID, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func (r *MessageRepository) DeleteByChatID(dbc dbctx.Context, chatID uint) error {
	if err := pick(r.db, dbc).Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages failed: %w", err)
	}
	return nil
}
