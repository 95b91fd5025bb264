package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"practice-feed/internal/adapters/repo"
	"practice-feed/internal/domain"
	"practice-feed/internal/infra/cache"
	"practice-feed/internal/infra/config"
	"practice-feed/internal/infra/db"
	applog "practice-feed/internal/infra/log"
	"practice-feed/internal/infra/metrics"
	"practice-feed/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	var jobQueue domain.ReconcileQueue
	switch {
	case cfg.AMQPURL != "":
		rabbitQueue, err := queue.NewRabbitReconcileQueue(cfg.AMQPURL, cfg.Queues.Reconcile)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		jobQueue = rabbitQueue
	case redisClient != nil:
		jobQueue = queue.NewRedisReconcileQueue(redisClient, cfg.Queues.Reconcile)
	default:
		logger.Fatal().Msg("scheduler: не указан брокер очереди (AMQP_URL или REDIS_ADDR)")
	}

	var dedupe domain.Cache
	if redisClient != nil {
		dedupe = cache.NewRedis(redisClient)
	}

	ticker := time.NewTicker(cfg.Reconcile.Interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", cfg.Reconcile.Interval).Msg("scheduler: старт")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
		}

		tenants, err := repoAdapter.ListActiveTenants(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка выборки арендаторов")
			continue
		}

		now := time.Now().UTC()
		for _, tenant := range tenants {
			interval := time.Duration(tenant.ReconcileInterval) * time.Minute
			if interval <= 0 {
				interval = cfg.Reconcile.Interval
			}
			slot := now.Truncate(interval)

			enqueue := func() error {
				job := domain.ReconcileJob{
					ID:          uuid.NewString(),
					TenantID:    tenant.ID,
					RequestedAt: now,
					Cause:       domain.ReconcileCauseScheduled,
				}
				return jobQueue.Enqueue(ctx, job)
			}

			// Несколько экземпляров планировщика не должны дублировать слот.
			if dedupe != nil {
				key := fmt.Sprintf("reconcile:once:%s:%d", tenant.ID, slot.Unix())
				err = dedupe.Once(key, interval, enqueue)
			} else {
				err = enqueue()
			}
			if err != nil {
				logger.Error().Err(err).Str("tenant_id", tenant.ID).Msg("scheduler: не удалось поставить задачу")
			}
		}
	}
}
