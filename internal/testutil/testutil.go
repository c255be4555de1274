// Package testutil provides an in-memory database and seed helpers for
// package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
)

// DB opens a private in-memory SQLite database with every table migrated.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.User{}, &model.Chat{}, &model.Message{}, &model.TurnAudit{}); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

func Ctx() dbctx.Context {
	return dbctx.New(context.Background())
}

func SeedUser(tb testing.TB, db *gorm.DB, username string) *model.User {
	tb.Helper()
	u := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "pw",
	}
	if err := db.Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedChat(tb testing.TB, db *gorm.DB, userID uint, title string) *model.Chat {
	tb.Helper()
	c := &model.Chat{UserID: userID}
	if title != "" {
		c.Title = &title
	}
	if err := db.Create(c).Error; err != nil {
		tb.Fatalf("seed chat: %v", err)
	}
	return c
}

func SeedMessage(tb testing.TB, db *gorm.DB, chatID uint, sender, text string, at time.Time) *model.Message {
	tb.Helper()
	m := &model.Message{
		ChatID:    chatID,
		Sender:    sender,
		Text:      text,
		CreatedAt: at,
	}
	if err := db.Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func PtrString(v string) *string { return &v }
