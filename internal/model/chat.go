package model

import "time"

// Chat is a conversation owned by exactly one user. UpdatedAt is the
// last-activity timestamp and moves forward on every stored turn.
type Chat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Title     *string   `gorm:"size:128" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	Messages []Message `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
