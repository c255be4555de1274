package repository

import (
	"errors"
	"testing"
	"time"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
	"triagechat/internal/testutil"
)

func TestMessageListRecentNewestFirst(t *testing.T) {
	db := testutil.DB(t)
	user := testutil.SeedUser(t, db, "alice")
	chat := testutil.SeedChat(t, db, user.ID, "")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		testutil.SeedMessage(t, db, chat.ID, model.SenderUser, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
	}

	repo := NewMessageRepository(db)
	recent, err := repo.ListRecent(testutil.Ctx(), chat.ID, 3)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 3 || recent[0].Text != "e" || recent[2].Text != "c" {
		t.Fatalf("unexpected recent order: %+v", recent)
	}

	latest, err := repo.Latest(testutil.Ctx(), chat.ID)
	if err != nil || latest == nil || latest.Text != "e" {
		t.Fatalf("unexpected latest: %+v err=%v", latest, err)
	}
}

func TestMessageOrderingTieBreaksOnID(t *testing.T) {
	db := testutil.DB(t)
	user := testutil.SeedUser(t, db, "alice")
	chat := testutil.SeedChat(t, db, user.ID, "")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	testutil.SeedMessage(t, db, chat.ID, model.SenderUser, "first", at)
	testutil.SeedMessage(t, db, chat.ID, model.SenderAssistant, "second", at)

	repo := NewMessageRepository(db)
	all, err := repo.ListByChatID(testutil.Ctx(), chat.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all[0].Text != "first" || all[1].Text != "second" {
		t.Fatalf("unexpected ascending order: %+v", all)
	}
	latest, err := repo.Latest(testutil.Ctx(), chat.ID)
	if err != nil || latest.Text != "second" {
		t.Fatalf("unexpected latest: %+v err=%v", latest, err)
	}
}

func TestChatGetByIDMissingReturnsNil(t *testing.T) {
	db := testutil.DB(t)
	chat, err := NewChatRepository(db).GetByID(testutil.Ctx(), 999)
	if err != nil || chat != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", chat, err)
	}
}

func TestChatListByUserOrderedByActivity(t *testing.T) {
	db := testutil.DB(t)
	alice := testutil.SeedUser(t, db, "alice")
	bob := testutil.SeedUser(t, db, "bob")
	older := testutil.SeedChat(t, db, alice.ID, "older")
	newer := testutil.SeedChat(t, db, alice.ID, "newer")
	testutil.SeedChat(t, db, bob.ID, "other")

	repo := NewChatRepository(db)
	if err := repo.Touch(testutil.Ctx(), older.ID, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	chats, err := repo.ListByUserID(testutil.Ctx(), alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != older.ID || chats[1].ID != newer.ID {
		t.Fatalf("unexpected chats: %+v", chats)
	}
}

func TestTxRunnerRollsBackOnError(t *testing.T) {
	db := testutil.DB(t)
	user := testutil.SeedUser(t, db, "alice")
	chat := testutil.SeedChat(t, db, user.ID, "")
	messages := NewMessageRepository(db)
	boom := errors.New("boom")

	err := NewTxRunner(db).InTx(testutil.Ctx(), func(tx dbctx.Context) error {
		if err := messages.Create(tx, &model.Message{ChatID: chat.ID, Sender: model.SenderUser, Text: "lost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	all, err := messages.ListByChatID(testutil.Ctx(), chat.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected rollback, found %d messages", len(all))
	}
}

func TestLockByIDRequiresTx(t *testing.T) {
	db := testutil.DB(t)
	if _, err := NewChatRepository(db).LockByID(testutil.Ctx(), 1); err == nil {
		t.Fatal("expected error without transaction")
	}
}

func TestTurnAuditListNewestFirst(t *testing.T) {
	db := testutil.DB(t)
	repo := NewTurnAuditRepository(db)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []string{model.TurnStatusTriageFailed, model.TurnStatusCompleted} {
		audit := &model.TurnAudit{ChatID: 1, UserID: 1, UserMessageID: uint(i + 1), Status: status, OccurredAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(testutil.Ctx(), audit); err != nil {
			t.Fatalf("create audit: %v", err)
		}
	}

	audits, err := repo.ListByChatID(testutil.Ctx(), 1, 10)
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 2 || audits[0].Status != model.TurnStatusCompleted {
		t.Fatalf("unexpected audits: %+v", audits)
	}
}
