package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ReconcileSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_reconcile_seconds",
		Help:    "Время полного прохода реконсиляции по арендатору",
		Buckets: prometheus.DefBuckets,
	})
	ReconcilePassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_reconcile_passes_total",
		Help: "Количество проходов реконсиляции",
	}, []string{"cause"})
	TaskTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_task_transitions_total",
		Help: "Количество переходов состояний задач ленты",
	}, []string{"action"})
	SignalFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_signal_fetch_errors_total",
		Help: "Ошибки получения сигналов от производителей",
	}, []string{"category"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ReconcileSeconds,
		ReconcilePassesTotal,
		TaskTransitionsTotal,
		SignalFetchErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncTransition увеличивает счётчик переходов состояний.
func IncTransition(action string) {
	TaskTransitionsTotal.WithLabelValues(action).Inc()
}

// IncSignalFetchError отмечает отказ производителя сигналов.
func IncSignalFetchError(category string) {
	SignalFetchErrors.WithLabelValues(category).Inc()
}

// ObserveReconcile записывает проход реконсиляции.
func ObserveReconcile(cause string, start time.Time) {
	ReconcileSeconds.Observe(time.Since(start).Seconds())
	ReconcilePassesTotal.WithLabelValues(cause).Inc()
}
