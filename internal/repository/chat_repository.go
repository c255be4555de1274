package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(dbc dbctx.Context, chat *model.Chat) error {
	if err := pick(r.db, dbc).Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) ListByUserID(dbc dbctx.Context, userID uint) ([]model.Chat, error) {
	var chats []model.Chat
	if err := pick(r.db, dbc).Where("user_id = ?", userID).Order("updated_at DESC").Order("id DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats failed: %w", err)
	}
	return chats, nil
}

// GetByID returns nil, nil when the chat does not exist.
func (r *ChatRepository) GetByID(dbc dbctx.Context, chatID uint) (*model.Chat, error) {
	var chat model.Chat
	if err := pick(r.db, dbc).Where("id = ?", chatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}

// LockByID takes a row lock on the chat for the rest of the transaction.
func (r *ChatRepository) LockByID(dbc dbctx.Context, chatID uint) (*model.Chat, error) {
	if dbc.Tx == nil {
		return nil, fmt.Errorf("lock chat requires a transaction")
	}
	var chat model.Chat
	if err := pick(r.db, dbc).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock chat failed: %w", err)
	}
	return &chat, nil
}

func (r *ChatRepository) Touch(dbc dbctx.Context, chatID uint, at time.Time) error {
	if err := pick(r.db, dbc).Model(&model.Chat{}).Where("id = ?", chatID).Update("updated_at", at).Error; err != nil {
		return fmt.Errorf("touch chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) DeleteByID(dbc dbctx.Context, chatID uint) error {
	if err := pick(r.db, dbc).Where("id = ?", chatID).Delete(&model.Chat{}).Error; err != nil {
		return fmt.Errorf("delete chat failed: %w", err)
	}
	return nil
}
