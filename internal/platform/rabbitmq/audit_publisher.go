package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"triagechat/internal/model"
)

// AuditPublisher sends turn audit records to a durable queue consumed by
// worker.TurnAuditWorker.
type AuditPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewAuditPublisher(conn *amqp.Connection, queueName string) *AuditPublisher {
	return &AuditPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *AuditPublisher) Publish(ctx context.Context, audit model.TurnAudit) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal audit payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			Type:         audit.Status,
		},
	); err != nil {
		return fmt.Errorf("publish audit failed: %w", err)
	}
	return nil
}

// DeclareQueue declares the durable, non-exclusive queue shared by the
// publisher and the worker.
func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue failed: %w", err)
	}
	return q, nil
}
