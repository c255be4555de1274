package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"triagechat/internal/app"
	"triagechat/internal/model"
	"triagechat/internal/pkg/jwtutil"
	"triagechat/internal/pkg/logger"
	"triagechat/internal/repository"
	"triagechat/internal/testutil"
	"triagechat/internal/transport/http/handler"
	"triagechat/internal/triage"
)

const testSecret = "test-secret"

type stubTriager struct{ err error }

func (s stubTriager) Classify(ctx context.Context, message string, auxiliary []string) (triage.Result, error) {
	if s.err != nil {
		return triage.Result{}, s.err
	}
	return triage.Result{Specialty: "Cardiology", SeverityLevel: "high", Urgent: true, Answer: "Go to ER.", AnswerConfidence: 0.9, Confidence: 0.8, Explanation: "cardiac"}, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, transcript []string) (string, error) {
	return "Please call emergency services.", nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, triager app.Triager) (*gin.Engine, func(username string) (uint, string)) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := logger.NewNop()

	chats := repository.NewChatRepository(db)
	messages := repository.NewMessageRepository(db)
	audits := repository.NewTurnAuditRepository(db)
	tx := repository.NewTxRunner(db)

	authService := app.NewAuthService(repository.NewUserRepository(db), testSecret, time.Hour)
	chatService := app.NewChatService(chats, messages, audits, tx, nil, log)
	turns := app.NewTurnOrchestrator(app.TurnDeps{
		Chats:     chats,
		Messages:  messages,
		Tx:        tx,
		Triager:   triager,
		Generator: stubGenerator{},
	}, app.TurnConfig{}, log)

	engine := NewEngine("triagechat-test", testSecret, log, Handlers{
		Auth: handler.NewAuthHandler(authService),
		Chat: handler.NewChatHandler(chatService, turns),
	})

	login := func(username string) (uint, string) {
		user := testutil.SeedUser(t, db, username)
		token, err := jwtutil.GenerateToken(testSecret, time.Hour, user.ID, user.Username)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		return user.ID, token
	}
	return engine, login
}

func do(t *testing.T, engine *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func createChat(t *testing.T, engine *gin.Engine, token string) model.Chat {
	t.Helper()
	rec, env := do(t, engine, nethttp.MethodPost, "/api/v1/chats", token, map[string]string{"title": "Symptoms"})
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("create chat status: got=%d want=%d body=%s", rec.Code, nethttp.StatusCreated, rec.Body.String())
	}
	var chat model.Chat
	if err := json.Unmarshal(env.Data, &chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	return chat
}

func TestChatLifecycle(t *testing.T) {
	engine, login := newTestServer(t, stubTriager{})
	_, token := login("alice")

	chat := createChat(t, engine, token)
	path := "/api/v1/chats/" + itoa(chat.ID)

	rec, env := do(t, engine, nethttp.MethodPost, path+"/messages", token, map[string]string{"message": "I have chest pain"})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("post message status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	var reply []model.Message
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(reply) != 1 || reply[0].Sender != model.SenderAssistant || reply[0].Text != "Please call emergency services." {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("raw_model_response")) {
		t.Fatalf("reply exposes the triage annotation: %s", rec.Body.String())
	}

	rec, env = do(t, engine, nethttp.MethodGet, path, token, nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("get chat status: got=%d", rec.Code)
	}
	var detail struct {
		ID       uint            `json:"id"`
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Messages) != 2 || detail.Messages[0].Sender != model.SenderUser {
		t.Fatalf("unexpected messages: %+v", detail.Messages)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("raw_model_response")) {
		t.Fatalf("chat detail exposes the triage annotation: %s", rec.Body.String())
	}

	rec, _ = do(t, engine, nethttp.MethodDelete, path, token, nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("delete status: got=%d", rec.Code)
	}
	rec, _ = do(t, engine, nethttp.MethodGet, path, token, nil)
	if rec.Code != nethttp.StatusNotFound {
		t.Fatalf("get after delete: got=%d want=404", rec.Code)
	}
}

func TestChatStatusMapping(t *testing.T) {
	engine, login := newTestServer(t, stubTriager{})
	_, owner := login("owner")
	_, other := login("intruder")
	chat := createChat(t, engine, owner)
	path := "/api/v1/chats/" + itoa(chat.ID)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", nethttp.MethodGet, "/api/v1/chats", "", nil, nethttp.StatusUnauthorized},
		{"bad token", nethttp.MethodGet, "/api/v1/chats", "garbage", nil, nethttp.StatusUnauthorized},
		{"bad id", nethttp.MethodGet, "/api/v1/chats/abc", owner, nil, nethttp.StatusBadRequest},
		{"missing chat", nethttp.MethodGet, "/api/v1/chats/9999", owner, nil, nethttp.StatusNotFound},
		{"foreign get", nethttp.MethodGet, path, other, nil, nethttp.StatusForbidden},
		{"foreign delete", nethttp.MethodDelete, path, other, nil, nethttp.StatusForbidden},
		{"foreign post", nethttp.MethodPost, path + "/messages", other, map[string]string{"message": "hi"}, nethttp.StatusForbidden},
		{"blank message", nethttp.MethodPost, path + "/messages", owner, map[string]string{"message": "   "}, nethttp.StatusBadRequest},
		{"nothing to retry", nethttp.MethodPost, path + "/retry", owner, nil, nethttp.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := do(t, engine, tc.method, tc.path, tc.token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status: got=%d want=%d body=%s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestTriageOutageReturnsBadGateway(t *testing.T) {
	engine, login := newTestServer(t, stubTriager{err: errors.New("connection refused")})
	_, token := login("bob")
	chat := createChat(t, engine, token)
	path := "/api/v1/chats/" + itoa(chat.ID)

	rec, _ := do(t, engine, nethttp.MethodPost, path+"/messages", token, map[string]string{"message": "headache"})
	if rec.Code != nethttp.StatusBadGateway {
		t.Fatalf("status: got=%d want=502", rec.Code)
	}

	// The user turn stays and is the one left to retry.
	_, env := do(t, engine, nethttp.MethodGet, path, token, nil)
	var detail struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Messages) != 1 || detail.Messages[0].Sender != model.SenderUser {
		t.Fatalf("unexpected messages after outage: %+v", detail.Messages)
	}

	rec, _ = do(t, engine, nethttp.MethodPost, path+"/retry", token, nil)
	if rec.Code != nethttp.StatusBadGateway {
		t.Fatalf("retry status while triage is down: got=%d want=502", rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	engine, _ := newTestServer(t, stubTriager{})

	req := httptest.NewRequest(nethttp.MethodGet, "/api/v1/chats", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("request id: got=%q want=req-123", got)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/api/v1/chats", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestRegisterLoginMe(t *testing.T) {
	engine, _ := newTestServer(t, stubTriager{})

	rec, _ := do(t, engine, nethttp.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "carol",
		"email":    "carol@example.com",
		"password": "password123",
	})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("register status: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec, env := do(t, engine, nethttp.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "carol",
		"password": "password123",
	})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("login status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &login); err != nil || login.Token == "" {
		t.Fatalf("decode login: %v %+v", err, login)
	}

	rec, _ = do(t, engine, nethttp.MethodGet, "/api/v1/auth/me", login.Token, nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("me status: got=%d", rec.Code)
	}

	rec, _ = do(t, engine, nethttp.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "carol",
		"password": "wrong-password",
	})
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("bad login status: got=%d want=401", rec.Code)
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
