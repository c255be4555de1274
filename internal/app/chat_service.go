package app

import (
	"context"
	"errors"
	"strings"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
	"triagechat/internal/pkg/logger"
)

type ChatService struct {
	chats        ChatStore
	messages     MessageStore
	audits       AuditStore
	tx           TxRunner
	historyCache HistoryCache
	log          *logger.Logger
}

type CreateChatInput struct {
	UserID uint
	Title  string
}

type ChatDetail struct {
	model.Chat
	Messages []model.Message `json:"messages"`
}

func NewChatService(
	chats ChatStore,
	messages MessageStore,
	audits AuditStore,
	tx TxRunner,
	historyCache HistoryCache,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		chats:        chats,
		messages:     messages,
		audits:       audits,
		tx:           tx,
		historyCache: historyCache,
		log:          log.With("service", "ChatService"),
	}
}

func (s *ChatService) CreateChat(ctx context.Context, input CreateChatInput) (*model.Chat, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	chat := &model.Chat{UserID: input.UserID}
	if title := strings.TrimSpace(input.Title); title != "" {
		chat.Title = &title
	}
	if err := s.chats.Create(dbctx.New(ctx), chat); err != nil {
		return nil, storeErr(err)
	}
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID uint) ([]model.Chat, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	chats, err := s.chats.ListByUserID(dbctx.New(ctx), userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return chats, nil
}

// GetChat returns the chat with every message, oldest first.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID uint) (*ChatDetail, error) {
	chat, err := ownedChat(dbctx.New(ctx), s.chats, userID, chatID)
	if err != nil {
		return nil, err
	}

	messages, err := s.history(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &ChatDetail{Chat: *chat, Messages: messages}, nil
}

// DeleteChat removes the chat, its messages and its audit trail in one transaction.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID uint) error {
	dbc := dbctx.New(ctx)
	if _, err := ownedChat(dbc, s.chats, userID, chatID); err != nil {
		return err
	}

	invalidateHistory(ctx, s.historyCache, chatID)
	err := s.tx.InTx(dbc, func(tx dbctx.Context) error {
		// Chat row first, then messages: the same lock order as a turn write.
		chat, err := s.chats.LockByID(tx, chatID)
		if err != nil {
			return err
		}
		if chat == nil {
			return ErrChatNotFound
		}
		if err := s.messages.DeleteByChatID(tx, chatID); err != nil {
			return err
		}
		if s.audits != nil {
			if err := s.audits.DeleteByChatID(tx, chatID); err != nil {
				return err
			}
		}
		return s.chats.DeleteByID(tx, chatID)
	})
	if errors.Is(err, ErrChatNotFound) {
		return err
	}
	if err != nil {
		return storeErr(err)
	}
	s.log.Info("chat deleted", "chat_id", chatID, "user_id", userID)
	return nil
}

func (s *ChatService) ListTurnAudits(ctx context.Context, userID, chatID uint, limit int) ([]model.TurnAudit, error) {
	dbc := dbctx.New(ctx)
	if _, err := ownedChat(dbc, s.chats, userID, chatID); err != nil {
		return nil, err
	}
	if s.audits == nil {
		return []model.TurnAudit{}, nil
	}
	audits, err := s.audits.ListByChatID(dbc, chatID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return audits, nil
}

func (s *ChatService) history(ctx context.Context, chatID uint) ([]model.Message, error) {
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, chatID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, chatID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListByChatID(dbctx.New(ctx), chatID)
	if err != nil {
		return nil, storeErr(err)
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, chatID); dirtyErr == nil && !dirty {
			if err := s.historyCache.SetHistory(ctx, chatID, messages); err != nil {
				s.log.Warn("cache chat history failed", "chat_id", chatID, "error", err)
			}
		}
	}
	return messages, nil
}

// ownedChat loads a chat and checks that userID owns it.
func ownedChat(dbc dbctx.Context, chats ChatStore, userID, chatID uint) (*model.Chat, error) {
	if userID == 0 || chatID == 0 {
		return nil, ErrInvalidInput
	}
	chat, err := chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, storeErr(err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if chat.UserID != userID {
		return nil, ErrForbidden
	}
	return chat, nil
}

func invalidateHistory(ctx context.Context, cache HistoryCache, chatID uint) {
	if cache == nil {
		return
	}
	_ = cache.MarkDirty(ctx, chatID)
	_ = cache.DeleteHistory(ctx, chatID)
}
