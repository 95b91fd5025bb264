package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"practice-feed/internal/adapters/repo"
	"practice-feed/internal/adapters/scorer"
	"practice-feed/internal/domain"
	"practice-feed/internal/infra/cache"
	"practice-feed/internal/infra/config"
	"practice-feed/internal/infra/db"
	httpinfra "practice-feed/internal/infra/http"
	applog "practice-feed/internal/infra/log"
	"practice-feed/internal/infra/metrics"
	feedusecase "practice-feed/internal/usecase/feed"
	rulesusecase "practice-feed/internal/usecase/rules"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var ruleCache domain.Cache
	if cfg.RedisAddr != "" {
		ruleCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}
	rulesService := rulesusecase.NewService(repoAdapter, ruleCache, cfg.Rules.CacheTTL, logger.With().Str("component", "rules").Logger())
	feedService := feedusecase.NewService(repoAdapter, rulesService, scorer.NewSimple(), logger.With().Str("component", "feed").Logger())

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	h := &handlers{feed: feedService, rules: rulesService}

	srv.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	srv.Router.Get("/api/v1/tenants/{tenantID}/feed", h.listFeed)
	srv.Router.Get("/api/v1/tenants/{tenantID}/feed/{sourceType}/{sourceID}/audit", h.auditTrail)
	srv.Router.Get("/api/v1/tenants/{tenantID}/rules", h.listRules)

	srv.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.TokenAuthMiddleware(cfg.APIToken))

		protected.Post("/api/v1/tenants/{tenantID}/feed/sync", h.syncFeed)
		protected.Post("/api/v1/tenants/{tenantID}/feed/{sourceType}/{sourceID}/resolve", h.resolveTask)
		protected.Post("/api/v1/tenants/{tenantID}/feed/{sourceType}/{sourceID}/snooze", h.snoozeTask)
		protected.Post("/api/v1/tenants/{tenantID}/feed/{sourceType}/{sourceID}/reopen", h.reopenTask)
		protected.Post("/api/v1/feed/resolve-batch", h.resolveBatch)
		protected.Post("/api/v1/feed/snooze-batch", h.snoozeBatch)
		protected.Put("/api/v1/tenants/{tenantID}/rules/{ruleKey}", h.putRule)
	})

	metrics.StartServer(rootCtx, logger.With().Str("component", "metrics").Logger(), cfg.Metrics.Addr)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-rootCtx.Done()
	logger.Info().Msg("api: остановка")
}

type handlers struct {
	feed  domain.FeedService
	rules *rulesusecase.Service
}

func identityFromRequest(r *http.Request) domain.TaskIdentity {
	return domain.TaskIdentity{
		TenantID:   chi.URLParam(r, "tenantID"),
		SourceType: domain.SourceType(chi.URLParam(r, "sourceType")),
		SourceID:   chi.URLParam(r, "sourceID"),
	}
}

func (h *handlers) listFeed(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.feed.TaskStates(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *handlers) syncFeed(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Signals []domain.FeedSignal `json:"signals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start := time.Now()
	tasks, err := h.feed.SyncFromSignals(r.Context(), chi.URLParam(r, "tenantID"), req.Signals)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.ObserveReconcile(string(domain.ReconcileCauseManual), start)
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *handlers) resolveTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.feed.Resolve(r.Context(), identityFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) snoozeTask(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Until time.Time `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.feed.Snooze(r.Context(), identityFromRequest(r), req.Until)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) reopenTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.feed.Reopen(r.Context(), identityFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) resolveBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Identities []domain.TaskIdentity `json:"identities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.feed.ResolveBatch(r.Context(), req.Identities)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) snoozeBatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Identities []domain.TaskIdentity `json:"identities"`
		Until      time.Time             `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.feed.SnoozeBatch(r.Context(), req.Identities, req.Until)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := h.feed.AuditTrail(r.Context(), identityFromRequest(r), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

func (h *handlers) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *handlers) putRule(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Scope    string         `json:"scope"`
		Weight   float64        `json:"weight"`
		Config   map[string]any `json:"config"`
		IsActive bool           `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = chi.URLParam(r, "tenantID")
	}
	rule := domain.PriorityRule{
		Scope:    scope,
		RuleKey:  chi.URLParam(r, "ruleKey"),
		Weight:   req.Weight,
		Config:   req.Config,
		IsActive: req.IsActive,
	}
	saved, err := h.rules.Upsert(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrIdentityIncomplete),
		errors.Is(err, domain.ErrSnoozeUntilRequired),
		errors.Is(err, domain.ErrSnoozeUntilPast):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotResolved), errors.Is(err, domain.ErrResolvedTask):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
