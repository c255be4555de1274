package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// New dials the broker and proves it is usable by opening and closing a
// channel within a short deadline.
func New(ctx context.Context, url, connectionName string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		ch, chErr := conn.Channel()
		if chErr == nil {
			chErr = ch.Close()
		}
		done <- chErr
	}()

	select {
	case <-checkCtx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq health check timeout: %w", checkCtx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
		}
		return conn, nil
	}
}
