package app

import (
	"context"
	"time"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
	"triagechat/internal/triage"
)

type ChatStore interface {
	Create(dbc dbctx.Context, chat *model.Chat) error
	ListByUserID(dbc dbctx.Context, userID uint) ([]model.Chat, error)
	GetByID(dbc dbctx.Context, chatID uint) (*model.Chat, error)
	LockByID(dbc dbctx.Context, chatID uint) (*model.Chat, error)
	Touch(dbc dbctx.Context, chatID uint, at time.Time) error
	DeleteByID(dbc dbctx.Context, chatID uint) error
}

type MessageStore interface {
	Create(dbc dbctx.Context, message *model.Message) error
	ListByChatID(dbc dbctx.Context, chatID uint) ([]model.Message, error)
	ListRecent(dbc dbctx.Context, chatID uint, limit int) ([]model.Message, error)
	Latest(dbc dbctx.Context, chatID uint) (*model.Message, error)
	DeleteByChatID(dbc dbctx.Context, chatID uint) error
}

type AuditStore interface {
	ListByChatID(dbc dbctx.Context, chatID uint, limit int) ([]model.TurnAudit, error)
	DeleteByChatID(dbc dbctx.Context, chatID uint) error
}

type TxRunner interface {
	InTx(dbc dbctx.Context, fn func(tx dbctx.Context) error) error
}

type Triager interface {
	Classify(ctx context.Context, message string, auxiliary []string) (triage.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, transcript []string) (string, error)
}

// ChatLocker hands out an exclusive per-chat lease. Acquire returns
// lock.ErrHeld when another request owns the chat.
type ChatLocker interface {
	Acquire(ctx context.Context, chatID uint) (release func(), err error)
}

type AuditPublisher interface {
	Publish(ctx context.Context, audit model.TurnAudit) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, chatID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, chatID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, chatID uint) error
	MarkDirty(ctx context.Context, chatID uint) error
	IsDirty(ctx context.Context, chatID uint) (bool, error)
}
