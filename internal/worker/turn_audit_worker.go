package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
	"triagechat/internal/pkg/logger"
	"triagechat/internal/platform/rabbitmq"
)

type AuditStore interface {
	Create(dbc dbctx.Context, audit *model.TurnAudit) error
}

// TurnAuditWorker consumes turn audit records from RabbitMQ and stores them.
type TurnAuditWorker struct {
	conn      *amqp.Connection
	store     AuditStore
	queueName string
	log       *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnAuditWorker(conn *amqp.Connection, store AuditStore, queueName string, log *logger.Logger) *TurnAuditWorker {
	return &TurnAuditWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		log:       log.With("component", "TurnAuditWorker"),
	}
}

func (w *TurnAuditWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("audit deliveries channel closed")
					return
				}
				if err := w.Handle(workerCtx, d.Body); err != nil {
					w.log.Error("persist turn audit failed", "error", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.log.Info("turn audit worker started", "queue", w.queueName)
	return nil
}

// Handle decodes one delivery body and stores it.
func (w *TurnAuditWorker) Handle(ctx context.Context, body []byte) error {
	var audit model.TurnAudit
	if err := json.Unmarshal(body, &audit); err != nil {
		return fmt.Errorf("decode turn audit failed: %w", err)
	}
	if audit.ChatID == 0 || audit.Status == "" {
		return fmt.Errorf("turn audit missing chat id or status")
	}
	audit.ID = 0
	if audit.OccurredAt.IsZero() {
		audit.OccurredAt = time.Now().UTC()
	}
	return w.store.Create(dbctx.New(ctx), &audit)
}

func (w *TurnAuditWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
