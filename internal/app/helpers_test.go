package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"triagechat/internal/cache"
	"triagechat/internal/lock"
	"triagechat/internal/model"
	"triagechat/internal/pkg/logger"
	"triagechat/internal/repository"
	"triagechat/internal/testutil"
	"triagechat/internal/triage"
)

type fakeTriager struct {
	mu     sync.Mutex
	result triage.Result
	err    error
	block  bool
	calls  []string
}

func (f *fakeTriager) Classify(ctx context.Context, message string, auxiliary []string) (triage.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, message)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return triage.Result{}, ctx.Err()
	}
	if f.err != nil {
		return triage.Result{}, f.err
	}
	return f.result, nil
}

type fakeGenerator struct {
	mu          sync.Mutex
	reply       string
	err         error
	transcripts [][]string
}

func (f *fakeGenerator) Generate(ctx context.Context, transcript []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, append([]string(nil), transcript...))
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[uint]bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(ctx context.Context, chatID uint) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = map[uint]bool{}
	}
	if f.held[chatID] {
		return nil, lock.ErrHeld
	}
	f.held[chatID] = true
	f.acquired++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.held[chatID] = false
		f.released++
	}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	audits []model.TurnAudit
}

func (f *fakePublisher) Publish(ctx context.Context, audit model.TurnAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, audit)
	return nil
}

type harness struct {
	db        *gorm.DB
	chats     *repository.ChatRepository
	messages  *repository.MessageRepository
	triager   *fakeTriager
	generator *fakeGenerator
	locker    *fakeLocker
	publisher *fakePublisher
	states    []TurnState
	clock     time.Time
	orch      *TurnOrchestrator
	service   *ChatService
}

func urgentResult() triage.Result {
	return triage.Result{
		Specialty:        "Cardiology",
		SeverityLevel:    "high",
		Urgent:           true,
		Answer:           "Call emergency services.",
		AnswerConfidence: 0.91,
		Confidence:       0.88,
		Explanation:      "Chest pain may indicate a cardiac event.",
	}
}

func newHarness(t *testing.T, cfg TurnConfig) *harness {
	t.Helper()
	return buildHarness(t, cfg, nil)
}

// newCachedHarness wires the Redis history cache against an in-process
// miniredis server.
func newCachedHarness(t *testing.T, cfg TurnConfig) (*harness, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return buildHarness(t, cfg, cache.NewHistoryCache(client, time.Minute, 5*time.Second)), mr
}

func buildHarness(t *testing.T, cfg TurnConfig, historyCache HistoryCache) *harness {
	t.Helper()
	db := testutil.DB(t)
	h := &harness{
		db:        db,
		chats:     repository.NewChatRepository(db),
		messages:  repository.NewMessageRepository(db),
		triager:   &fakeTriager{result: urgentResult()},
		generator: &fakeGenerator{reply: "Please seek care."},
		locker:    &fakeLocker{},
		publisher: &fakePublisher{},
		clock:     time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	tx := repository.NewTxRunner(db)
	h.orch = NewTurnOrchestrator(TurnDeps{
		Chats:        h.chats,
		Messages:     h.messages,
		Tx:           tx,
		Triager:      h.triager,
		Generator:    h.generator,
		Locker:       h.locker,
		Publisher:    h.publisher,
		HistoryCache: historyCache,
		Observer: func(chatID uint, state TurnState) {
			h.states = append(h.states, state)
		},
		Now: func() time.Time {
			h.clock = h.clock.Add(time.Second)
			return h.clock
		},
	}, cfg, logger.NewNop())
	h.service = NewChatService(h.chats, h.messages, repository.NewTurnAuditRepository(db), tx, historyCache, logger.NewNop())
	return h
}

func (h *harness) allMessages(t *testing.T, chatID uint) []model.Message {
	t.Helper()
	messages, err := h.messages.ListByChatID(testutil.Ctx(), chatID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return messages
}

func (h *harness) chat(t *testing.T, chatID uint) *model.Chat {
	t.Helper()
	chat, err := h.chats.GetByID(testutil.Ctx(), chatID)
	if err != nil || chat == nil {
		t.Fatalf("get chat: %+v %v", chat, err)
	}
	return chat
}
