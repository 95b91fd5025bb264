package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"practice-feed/internal/domain"
	"practice-feed/internal/infra/metrics"
)

// RabbitReconcileQueue реализует очередь задач поверх RabbitMQ с ручными ack/nack.
type RabbitReconcileQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

var _ domain.ReconcileQueue = (*RabbitReconcileQueue)(nil)

// NewRabbitReconcileQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitReconcileQueue(amqpURL, queue string) (*RabbitReconcileQueue, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return &RabbitReconcileQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу с признаком персистентности.
func (q *RabbitReconcileQueue) Enqueue(ctx context.Context, job domain.ReconcileJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Подтверждение: успех — ack, неуспех — nack
// с возвратом в очередь.
func (q *RabbitReconcileQueue) Receive(ctx context.Context) (domain.ReconcileJob, domain.ReconcileAckFunc, error) {
	if q.deliveries == nil {
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.ReconcileJob{}, nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}

	select {
	case <-ctx.Done():
		return domain.ReconcileJob{}, nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return domain.ReconcileJob{}, nil, errors.New("amqp queue: канал доставки закрыт")
		}
		var job domain.ReconcileJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Нечитаемое сообщение нет смысла возвращать в очередь.
			_ = d.Nack(false, false)
			return domain.ReconcileJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает канал и соединение с брокером.
func (q *RabbitReconcileQueue) Close() error {
	var errs []error
	if q.ch != nil {
		if err := q.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
