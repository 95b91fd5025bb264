// Package rules отвечает за разрешение и управление правилами приоритизации.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"practice-feed/internal/domain"
)

// Service разрешает действующие правила арендатора с кэшированием в Redis.
type Service struct {
	repo     domain.RuleRepo
	cache    domain.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
}

var _ domain.RuleProvider = (*Service)(nil)

// NewService создаёт сервис правил. cache может быть nil — тогда каждый запрос
// идёт в хранилище.
func NewService(repo domain.RuleRepo, cache domain.Cache, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{repo: repo, cache: cache, cacheTTL: cacheTTL, log: logger}
}

func cacheKey(tenantID string) string {
	return "rules:effective:" + tenantID
}

// Effective возвращает действующий набор правил арендатора по rule_key:
// активное правило арендатора перекрывает глобальное с тем же ключом.
func (s *Service) Effective(ctx context.Context, tenantID string) (map[string]domain.PriorityRule, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(cacheKey(tenantID)); err == nil && len(data) > 0 {
			var cached map[string]domain.PriorityRule
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			// Битое значение переживает рестарт с другой схемой: перечитываем из БД.
			_ = s.cache.Del(cacheKey(tenantID))
		}
	}

	listed, err := s.repo.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("получение правил: %w", err)
	}
	effective := make(map[string]domain.PriorityRule, len(listed))
	for _, rule := range listed {
		if rule.Scope == domain.RuleScopeGlobal {
			effective[rule.RuleKey] = rule
		}
	}
	for _, rule := range listed {
		if rule.Scope == tenantID {
			effective[rule.RuleKey] = rule
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(effective); err == nil {
			if err := s.cache.Set(cacheKey(tenantID), data, s.cacheTTL); err != nil {
				s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("не удалось закэшировать правила")
			}
		}
	}
	return effective, nil
}

// Upsert сохраняет правило и сбрасывает кэш его области. Изменение глобального
// правила доезжает до остальных арендаторов по истечении TTL.
func (s *Service) Upsert(ctx context.Context, rule domain.PriorityRule) (domain.PriorityRule, error) {
	if rule.RuleKey == "" {
		return domain.PriorityRule{}, fmt.Errorf("правило без rule_key")
	}
	if rule.Scope == "" {
		rule.Scope = domain.RuleScopeGlobal
	}
	saved, err := s.repo.UpsertRule(ctx, rule)
	if err != nil {
		return domain.PriorityRule{}, fmt.Errorf("сохранение правила %s/%s: %w", rule.Scope, rule.RuleKey, err)
	}
	if s.cache != nil && saved.Scope != domain.RuleScopeGlobal {
		if err := s.cache.Del(cacheKey(saved.Scope)); err != nil {
			s.log.Warn().Err(err).Str("scope", saved.Scope).Msg("не удалось сбросить кэш правил")
		}
	}
	return saved, nil
}

// List возвращает правила видимые арендатору (глобальные плюс его собственные).
func (s *Service) List(ctx context.Context, tenantID string) ([]domain.PriorityRule, error) {
	listed, err := s.repo.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("получение правил: %w", err)
	}
	return listed, nil
}
