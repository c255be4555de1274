package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"triagechat/internal/app"
	"triagechat/internal/model"
	"triagechat/internal/transport/http/middleware"
	"triagechat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
	turns       *app.TurnOrchestrator
}

type CreateChatRequest struct {
	Title string `json:"title" binding:"max=128"`
}

type PostMessageRequest struct {
	Message string `json:"message" binding:"required,max=8000"`
}

// messageView is the user-facing shape of a turn. The raw triage annotation
// stays server side; owners read triage outcomes through the audit endpoint.
type messageView struct {
	ID        uint      `json:"id"`
	ChatID    uint      `json:"chat_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}

type chatDetailView struct {
	model.Chat
	Messages []messageView `json:"messages"`
}

func toMessageViews(messages []model.Message) []messageView {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			ID:        m.ID,
			ChatID:    m.ChatID,
			Sender:    m.Sender,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	return views
}

func NewChatHandler(chatService *app.ChatService, turns *app.TurnOrchestrator) *ChatHandler {
	return &ChatHandler{chatService: chatService, turns: turns}
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	chats, err := h.chatService.ListChats(c.Request.Context(), userID)
	if err != nil {
		writeChatError(c, err, "list chats failed")
		return
	}
	response.OK(c, chats)
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	// An empty body creates an untitled chat.
	var req CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
			return
		}
	}

	chat, err := h.chatService.CreateChat(c.Request.Context(), app.CreateChatInput{
		UserID: userID,
		Title:  req.Title,
	})
	if err != nil {
		writeChatError(c, err, "create chat failed")
		return
	}
	response.Created(c, chat)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, chatID, ok := chatParams(c)
	if !ok {
		return
	}

	detail, err := h.chatService.GetChat(c.Request.Context(), userID, chatID)
	if err != nil {
		writeChatError(c, err, "get chat failed")
		return
	}
	response.OK(c, chatDetailView{Chat: detail.Chat, Messages: toMessageViews(detail.Messages)})
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, chatID, ok := chatParams(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteChat(c.Request.Context(), userID, chatID); err != nil {
		writeChatError(c, err, "delete chat failed")
		return
	}
	response.OK(c, gin.H{"deleted_chat_id": chatID})
}

// PostMessage runs one turn and answers with a one-element list holding the
// assistant reply.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	userID, chatID, ok := chatParams(c)
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	reply, err := h.turns.PostMessage(c.Request.Context(), app.TurnInput{
		UserID: userID,
		ChatID: chatID,
		Text:   req.Message,
	})
	if err != nil {
		writeChatError(c, err, "post message failed")
		return
	}
	response.OK(c, toMessageViews([]model.Message{*reply}))
}

func (h *ChatHandler) RetryTurn(c *gin.Context) {
	userID, chatID, ok := chatParams(c)
	if !ok {
		return
	}

	reply, err := h.turns.RetryTurn(c.Request.Context(), app.RetryInput{
		UserID: userID,
		ChatID: chatID,
	})
	if err != nil {
		writeChatError(c, err, "retry turn failed")
		return
	}
	response.OK(c, toMessageViews([]model.Message{*reply}))
}

func (h *ChatHandler) ListAudits(c *gin.Context) {
	userID, chatID, ok := chatParams(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	audits, err := h.chatService.ListTurnAudits(c.Request.Context(), userID, chatID, limit)
	if err != nil {
		writeChatError(c, err, "list audits failed")
		return
	}
	response.OK(c, audits)
}

func chatParams(c *gin.Context) (uint, uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return 0, 0, false
	}
	chatID64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || chatID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return 0, 0, false
	}
	return userID, uint(chatID64), true
}

func writeChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeMessageEmpty, err.Error())
	case errors.Is(err, app.ErrChatNotFound):
		response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
	case errors.Is(err, app.ErrChatBusy):
		response.Error(c, http.StatusConflict, response.CodeChatBusy, err.Error())
	case errors.Is(err, app.ErrNothingToRetry):
		response.Error(c, http.StatusConflict, response.CodeNothingToRetry, err.Error())
	case errors.Is(err, app.ErrTriageUnavailable):
		response.Error(c, http.StatusBadGateway, response.CodeTriageUnavailable, app.ErrTriageUnavailable.Error())
	case errors.Is(err, app.ErrGenerationUnavailable):
		response.Error(c, http.StatusBadGateway, response.CodeGenerationFailed, app.ErrGenerationUnavailable.Error())
	case errors.Is(err, app.ErrStoreUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeStoreUnavailable, app.ErrStoreUnavailable.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
