package repository

import (
	"fmt"

	"gorm.io/gorm"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
)

type TurnAuditRepository struct {
	db *gorm.DB
}

func NewTurnAuditRepository(db *gorm.DB) *TurnAuditRepository {
	return &TurnAuditRepository{db: db}
}

func (r *TurnAuditRepository) Create(dbc dbctx.Context, audit *model.TurnAudit) error {
	if err := pick(r.db, dbc).Create(audit).Error; err != nil {
		return fmt.Errorf("create turn audit failed: %w", err)
	}
	return nil
}

func (r *TurnAuditRepository) ListByChatID(dbc dbctx.Context, chatID uint, limit int) ([]model.TurnAudit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var audits []model.TurnAudit
	if err := pick(r.db, dbc).Where("chat_id = ?", chatID).Order("occurred_at DESC").Order("id DESC").Limit(limit).Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("list turn audits failed: %w", err)
	}
	return audits, nil
}

func (r *TurnAuditRepository) DeleteByChatID(dbc dbctx.Context, chatID uint) error {
	if err := pick(r.db, dbc).Where("chat_id = ?", chatID).Delete(&model.TurnAudit{}).Error; err != nil {
		return fmt.Errorf("delete turn audits failed: %w", err)
	}
	return nil
}
