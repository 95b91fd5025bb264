package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"practice-feed/internal/domain"
)

// RedisReconcileQueue реализует очередь задач на базе Redis lists.
type RedisReconcileQueue struct {
	client *redis.Client
	key    string
}

var _ domain.ReconcileQueue = (*RedisReconcileQueue)(nil)

// NewRedisReconcileQueue создаёт очередь по указанному ключу.
func NewRedisReconcileQueue(client *redis.Client, key string) *RedisReconcileQueue {
	return &RedisReconcileQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisReconcileQueue) Enqueue(ctx context.Context, job domain.ReconcileJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. BRPop снимает элемент сразу, поэтому
// подтверждение: успех — ничего, неуспех — возврат в очередь.
func (q *RedisReconcileQueue) Receive(ctx context.Context) (domain.ReconcileJob, domain.ReconcileAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ReconcileJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ReconcileJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ReconcileJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.ReconcileJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		var job domain.ReconcileJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return domain.ReconcileJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return job, ack, nil
	}
}
