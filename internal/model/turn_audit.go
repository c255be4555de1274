package model

import "time"

const (
	TurnStatusCompleted        = "completed"
	TurnStatusTriageFailed     = "triage_failed"
	TurnStatusGenerationFailed = "generation_failed"
)

// TurnAudit records the outcome of one attempted turn. Rows are written
// asynchronously by the audit worker, never inside the turn transaction.
type TurnAudit struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ChatID             uint      `gorm:"not null;index" json:"chat_id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	UserMessageID      uint      `gorm:"not null" json:"user_message_id"`
	AssistantMessageID uint      `json:"assistant_message_id"`
	Status             string    `gorm:"size:32;not null;index" json:"status"`
	Specialty          string    `gorm:"size:128" json:"specialty"`
	SeverityLevel      string    `gorm:"size:64" json:"severity_level"`
	Urgent             bool      `json:"urgent"`
	Error              string    `gorm:"type:text" json:"error,omitempty"`
	OccurredAt         time.Time `gorm:"not null" json:"occurred_at"`
	CreatedAt          time.Time `json:"created_at"`
}
