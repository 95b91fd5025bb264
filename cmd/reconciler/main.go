package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"practice-feed/internal/adapters/repo"
	"practice-feed/internal/adapters/scorer"
	"practice-feed/internal/adapters/signals"
	"practice-feed/internal/domain"
	"practice-feed/internal/infra/cache"
	"practice-feed/internal/infra/config"
	"practice-feed/internal/infra/db"
	applog "practice-feed/internal/infra/log"
	"practice-feed/internal/infra/metrics"
	"practice-feed/internal/infra/queue"
	feedusecase "practice-feed/internal/usecase/feed"
	rulesusecase "practice-feed/internal/usecase/rules"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.Metrics.Addr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: нет подключения к БД")
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
			logger.Fatal().Err(err).Msg("reconciler: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		jobQueue = rabbitQueue
	case redisClient != nil:
		jobQueue = queue.NewRedisReconcileQueue(redisClient, cfg.Queues.Reconcile)
	default:
		logger.Fatal().Msg("reconciler: не указан брокер очереди (AMQP_URL или REDIS_ADDR)")
	}

	var ruleCache domain.Cache
	if redisClient != nil {
		ruleCache = cache.NewRedis(redisClient)
	}
	rulesService := rulesusecase.NewService(repoAdapter, ruleCache, cfg.Rules.CacheTTL, logger.With().Str("component", "rules").Logger())
	feedService := feedusecase.NewService(repoAdapter, rulesService, scorer.NewSimple(), logger.With().Str("component", "feed").Logger())

	if cfg.Producers.BaseURL == "" {
		logger.Fatal().Msg("reconciler: не указан адрес производителей сигналов (SIGNAL_PRODUCERS_BASE_URL)")
	}
	producerCfg := signals.Config{BaseURL: cfg.Producers.BaseURL, Timeout: cfg.Producers.Timeout}
	categories := []domain.SourceType{
		domain.SourcePendingData,
		domain.SourceLowAdherence,
		domain.SourceAppointmentUpcoming,
		domain.SourceLabHighRisk,
		domain.SourceRecentActivity,
	}
	sources := make([]domain.SignalSource, 0, len(categories))
	for _, category := range categories {
		sources = append(sources, signals.NewHTTPSource(producerCfg, category, logger.With().Str("component", "signals").Logger()))
	}

	worker := &jobWorker{
		log:     logger,
		queue:   jobQueue,
		sources: sources,
		feed:    feedService,
	}

	logger.Info().Msg("reconciler: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("reconciler: остановлен")
}

type jobWorker struct {
	log     zerolog.Logger
	queue   domain.ReconcileQueue
	sources []domain.SignalSource
	feed    domain.FeedService
}

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("reconciler: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.TenantID == "" {
			jobLog.Error().Msg("reconciler: задача без арендатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("reconciler: не удалось подтвердить пустую задачу")
			}
			continue
		}

		if err := w.handleJob(ctx, job); err != nil {
			jobLog.Error().Err(err).Msg("reconciler: проход завершился ошибкой, вернём задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("reconciler: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("reconciler: не удалось подтвердить задачу")
		}
	}
}

// handleJob собирает срез сигналов со всех производителей и прогоняет его через
// машину состояний. Недоступный производитель даёт пустую категорию, проход
// продолжается.
func (w *jobWorker) handleJob(ctx context.Context, job domain.ReconcileJob) error {
	start := time.Now()

	var snapshot []domain.FeedSignal
	for _, source := range w.sources {
		fetched, err := source.Fetch(ctx, job.TenantID)
		if err != nil {
			w.log.Warn().Err(err).
				Str("category", string(source.Category())).
				Msg("reconciler: категория недоступна, пропускаем")
			continue
		}
		snapshot = append(snapshot, fetched...)
	}

	tasks, err := w.feed.SyncFromSignals(ctx, job.TenantID, snapshot)
	if err != nil {
		return err
	}

	metrics.ObserveReconcile(string(job.Cause), start)
	w.log.Info().
		Str("tenant_id", job.TenantID).
		Int("signals", len(snapshot)).
		Int("tasks", len(tasks)).
		Dur("took", time.Since(start)).
		Msg("reconciler: проход завершён")
	return nil
}
