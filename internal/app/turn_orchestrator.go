package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"triagechat/internal/lock"
	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
	"triagechat/internal/pkg/logger"
	"triagechat/internal/triage"
)

type TurnState string

const (
	StateIdle               TurnState = "idle"
	StateAuthorizing        TurnState = "authorizing"
	StateBuildingContext    TurnState = "building_context"
	StateAwaitingTriage     TurnState = "awaiting_triage"
	StateAwaitingGeneration TurnState = "awaiting_generation"
	StatePersisting         TurnState = "persisting"
	StateDone               TurnState = "done"
	StateFailed             TurnState = "failed"
)

type TurnInput struct {
	UserID uint
	ChatID uint
	Text   string
}

type RetryInput struct {
	UserID uint
	ChatID uint
}

type TurnConfig struct {
	ContextWindow     int
	TriageTimeout     time.Duration
	GenerationTimeout time.Duration
}

type TurnDeps struct {
	Chats     ChatStore
	Messages  MessageStore
	Tx        TxRunner
	Triager   Triager
	Generator Generator

	// Optional collaborators.
	Locker       ChatLocker
	Publisher    AuditPublisher
	HistoryCache HistoryCache
	Observer     func(chatID uint, state TurnState)
	Now          func() time.Time
}

// TurnOrchestrator runs one message turn: authorize, store the user turn,
// build context, triage, generate, store the assistant turn.
type TurnOrchestrator struct {
	chats     ChatStore
	messages  MessageStore
	tx        TxRunner
	window    *ContextWindow
	triager   Triager
	generator Generator

	locker       ChatLocker
	publisher    AuditPublisher
	historyCache HistoryCache
	observer     func(chatID uint, state TurnState)
	now          func() time.Time

	triageTimeout     time.Duration
	generationTimeout time.Duration

	log    *logger.Logger
	tracer trace.Tracer
}

func NewTurnOrchestrator(deps TurnDeps, cfg TurnConfig, log *logger.Logger) *TurnOrchestrator {
	if cfg.TriageTimeout <= 0 {
		cfg.TriageTimeout = 30 * time.Second
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 90 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TurnOrchestrator{
		chats:             deps.Chats,
		messages:          deps.Messages,
		tx:                deps.Tx,
		window:            NewContextWindow(deps.Messages, cfg.ContextWindow),
		triager:           deps.Triager,
		generator:         deps.Generator,
		locker:            deps.Locker,
		publisher:         deps.Publisher,
		historyCache:      deps.HistoryCache,
		observer:          deps.Observer,
		now:               now,
		triageTimeout:     cfg.TriageTimeout,
		generationTimeout: cfg.GenerationTimeout,
		log:               log.With("service", "TurnOrchestrator"),
		tracer:            otel.Tracer("triagechat/internal/app"),
	}
}

// turn tracks one pipeline run for logging, tracing and observers.
type turn struct {
	o      *TurnOrchestrator
	userID uint
	chatID uint
	state  TurnState
	log    *logger.Logger
	span   trace.Span
}

func (t *turn) enter(state TurnState) {
	t.log.Debug("turn transition", "from", string(t.state), "to", string(state))
	t.state = state
	t.span.AddEvent(string(state))
	if t.o.observer != nil {
		t.o.observer(t.chatID, state)
	}
}

func (t *turn) fail(err error) error {
	from := t.state
	t.enter(StateFailed)
	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, err.Error())
	switch {
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrChatBusy),
		errors.Is(err, ErrNothingToRetry), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMessageEmpty):
		t.log.Info("turn rejected", "state", string(from), "error", err)
	default:
		t.log.Error("turn failed", "state", string(from), "error", err)
	}
	return err
}

func (o *TurnOrchestrator) begin(ctx context.Context, name string, userID, chatID uint) (context.Context, *turn) {
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("chat.id", int64(chatID)),
	))
	t := &turn{
		o:      o,
		userID: userID,
		chatID: chatID,
		state:  StateIdle,
		log:    o.log.With("chat_id", chatID, "user_id", userID),
		span:   span,
	}
	if o.observer != nil {
		o.observer(chatID, StateIdle)
	}
	return ctx, t
}

// PostMessage appends a user turn and, when triage and generation both
// succeed, its assistant reply. It returns the assistant turn.
//
// On a triage or generation failure the user turn stays stored and no
// assistant turn is written; RetryTurn can complete it later.
func (o *TurnOrchestrator) PostMessage(ctx context.Context, input TurnInput) (*model.Message, error) {
	ctx, t := o.begin(ctx, "turn.post_message", input.UserID, input.ChatID)
	defer t.span.End()

	// Whitespace-only messages are rejected; anything else is stored and
	// triaged exactly as sent.
	if strings.TrimSpace(input.Text) == "" {
		return nil, t.fail(ErrMessageEmpty)
	}

	release, err := o.authorize(ctx, t)
	if err != nil {
		return nil, t.fail(err)
	}
	defer release()

	userMessage, err := o.appendUserTurn(ctx, t, input.Text)
	if err != nil {
		return nil, t.fail(err)
	}
	return o.complete(ctx, t, userMessage)
}

// RetryTurn completes a chat whose newest message is an unanswered user turn,
// without storing the user text again.
func (o *TurnOrchestrator) RetryTurn(ctx context.Context, input RetryInput) (*model.Message, error) {
	ctx, t := o.begin(ctx, "turn.retry", input.UserID, input.ChatID)
	defer t.span.End()

	release, err := o.authorize(ctx, t)
	if err != nil {
		return nil, t.fail(err)
	}
	defer release()

	latest, err := o.messages.Latest(dbctx.New(ctx), t.chatID)
	if err != nil {
		return nil, t.fail(storeErr(err))
	}
	if latest == nil || !latest.IsUser() {
		return nil, t.fail(ErrNothingToRetry)
	}
	return o.complete(ctx, t, latest)
}

// authorize checks ownership and takes the per-chat lease. The returned
// release func must be called on every exit path.
func (o *TurnOrchestrator) authorize(ctx context.Context, t *turn) (func(), error) {
	t.enter(StateAuthorizing)
	if _, err := ownedChat(dbctx.New(ctx), o.chats, t.userID, t.chatID); err != nil {
		return nil, err
	}
	if o.locker == nil {
		return func() {}, nil
	}
	release, err := o.locker.Acquire(ctx, t.chatID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, ErrChatBusy
		}
		return nil, storeErr(err)
	}
	return release, nil
}

func (o *TurnOrchestrator) appendUserTurn(ctx context.Context, t *turn, text string) (*model.Message, error) {
	invalidateHistory(ctx, o.historyCache, t.chatID)

	message := &model.Message{
		ChatID: t.chatID,
		Sender: model.SenderUser,
		Text:   text,
	}
	if err := o.persist(ctx, t.chatID, message, time.Time{}); err != nil {
		return nil, err
	}
	t.log.Debug("user turn stored", "message_id", message.ID)
	return message, nil
}

// complete runs the pipeline from context building to the assistant write
// for an already stored user turn.
func (o *TurnOrchestrator) complete(ctx context.Context, t *turn, userMessage *model.Message) (*model.Message, error) {
	t.enter(StateBuildingContext)
	transcript, err := o.window.Build(dbctx.New(ctx), t.chatID)
	if err != nil {
		return nil, t.fail(storeErr(err))
	}

	t.enter(StateAwaitingTriage)
	result, err := o.classify(ctx, userMessage.Text)
	if err != nil {
		o.publishAudit(ctx, t, userMessage, nil, model.TurnStatusTriageFailed, nil, err)
		return nil, t.fail(err)
	}
	block := triage.FormatBlock(result)
	transcript = append(transcript, triage.TranscriptEntry(block))

	t.enter(StateAwaitingGeneration)
	reply, err := o.generate(ctx, transcript)
	if err != nil {
		o.publishAudit(ctx, t, userMessage, nil, model.TurnStatusGenerationFailed, &result, err)
		return nil, t.fail(err)
	}

	t.enter(StatePersisting)
	invalidateHistory(ctx, o.historyCache, t.chatID)
	assistant := &model.Message{
		ChatID:    t.chatID,
		Sender:    model.SenderAssistant,
		Text:      reply,
		RawTriage: &block,
	}
	if err := o.persist(ctx, t.chatID, assistant, userMessage.CreatedAt); err != nil {
		return nil, t.fail(err)
	}

	latest, err := o.messages.Latest(dbctx.New(ctx), t.chatID)
	if err != nil {
		return nil, t.fail(storeErr(err))
	}
	if latest == nil {
		return nil, t.fail(ErrChatNotFound)
	}

	o.publishAudit(ctx, t, userMessage, assistant, model.TurnStatusCompleted, &result, nil)
	t.enter(StateDone)
	t.span.SetAttributes(
		attribute.String("triage.specialty", result.Specialty),
		attribute.Bool("triage.urgent", result.Urgent),
	)
	return latest, nil
}

func (o *TurnOrchestrator) classify(ctx context.Context, text string) (triage.Result, error) {
	ctx, span := o.tracer.Start(ctx, "turn.triage")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.triageTimeout)
	defer cancel()

	result, err := o.triager.Classify(ctx, text, []string{})
	if err != nil {
		span.RecordError(err)
		return triage.Result{}, fmt.Errorf("%w: %v", ErrTriageUnavailable, err)
	}
	return result, nil
}

func (o *TurnOrchestrator) generate(ctx context.Context, transcript []string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "turn.generate", trace.WithAttributes(
		attribute.Int("transcript.entries", len(transcript)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.generationTimeout)
	defer cancel()

	reply, err := o.generator.Generate(ctx, transcript)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	return reply, nil
}

// persist appends message and moves the chat's last activity to its
// timestamp in one transaction. The timestamp never goes below notBefore or
// the chat's newest stored message, keeping per-chat order monotonic.
func (o *TurnOrchestrator) persist(ctx context.Context, chatID uint, message *model.Message, notBefore time.Time) error {
	err := o.tx.InTx(dbctx.New(ctx), func(tx dbctx.Context) error {
		chat, err := o.chats.LockByID(tx, chatID)
		if err != nil {
			return storeErr(err)
		}
		if chat == nil {
			return ErrChatNotFound
		}

		at := o.now()
		if at.Before(notBefore) {
			at = notBefore
		}
		latest, err := o.messages.Latest(tx, chatID)
		if err != nil {
			return storeErr(err)
		}
		if latest != nil && at.Before(latest.CreatedAt) {
			at = latest.CreatedAt
		}

		message.CreatedAt = at
		if err := o.messages.Create(tx, message); err != nil {
			return storeErr(err)
		}
		if err := o.chats.Touch(tx, chatID, at); err != nil {
			return storeErr(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) || errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return storeErr(err)
	}
	return nil
}

// publishAudit is best effort: the turn's outcome is already decided and
// stored when it runs.
func (o *TurnOrchestrator) publishAudit(
	ctx context.Context,
	t *turn,
	userMessage *model.Message,
	assistant *model.Message,
	status string,
	result *triage.Result,
	cause error,
) {
	if o.publisher == nil {
		return
	}
	audit := model.TurnAudit{
		ChatID:        t.chatID,
		UserID:        t.userID,
		UserMessageID: userMessage.ID,
		Status:        status,
		OccurredAt:    o.now(),
	}
	if assistant != nil {
		audit.AssistantMessageID = assistant.ID
	}
	if result != nil {
		audit.Specialty = result.Specialty
		audit.SeverityLevel = result.SeverityLevel
		audit.Urgent = result.Urgent
	}
	if cause != nil {
		audit.Error = cause.Error()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, audit); err != nil {
		t.log.Warn("publish turn audit failed", "status", status, "error", err)
	}
}
