package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"practice-feed/internal/domain"
)

type stubRuleRepo struct {
	rules     []domain.PriorityRule
	listCalls int
}

func (r *stubRuleRepo) ListRules(_ context.Context, tenantID string) ([]domain.PriorityRule, error) {
	r.listCalls++
	var out []domain.PriorityRule
	for _, rule := range r.rules {
		if rule.IsActive && (rule.Scope == domain.RuleScopeGlobal || rule.Scope == tenantID) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *stubRuleRepo) UpsertRule(_ context.Context, rule domain.PriorityRule) (domain.PriorityRule, error) {
	for i, existing := range r.rules {
		if existing.Scope == rule.Scope && existing.RuleKey == rule.RuleKey {
			r.rules[i] = rule
			return rule, nil
		}
	}
	r.rules = append(r.rules, rule)
	return rule, nil
}

type memoryCache struct {
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Once(string, time.Duration, func() error) error { return nil }

func (c *memoryCache) Set(key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *memoryCache) Get(key string) ([]byte, error) {
	value, ok := c.data[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return value, nil
}

func (c *memoryCache) Del(key string) error {
	delete(c.data, key)
	return nil
}

func TestEffectiveTenantOverridesGlobal(t *testing.T) {
	repo := &stubRuleRepo{rules: []domain.PriorityRule{
		{Scope: domain.RuleScopeGlobal, RuleKey: "low_adherence", Weight: 4, IsActive: true},
		{Scope: "tenant-1", RuleKey: "low_adherence", Weight: 7, IsActive: true},
		{Scope: domain.RuleScopeGlobal, RuleKey: "pending_data", Weight: 5, IsActive: true},
		{Scope: "tenant-2", RuleKey: "pending_data", Weight: 9, IsActive: true},
	}}
	svc := NewService(repo, nil, time.Minute, zerolog.Nop())

	effective, err := svc.Effective(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got := effective["low_adherence"].Weight; got != 7 {
		t.Fatalf("правило арендатора должно перекрывать глобальное: ожидали 7, получили %v", got)
	}
	if got := effective["pending_data"].Weight; got != 5 {
		t.Fatalf("чужое правило не должно применяться: ожидали 5, получили %v", got)
	}
}

func TestEffectiveUsesCache(t *testing.T) {
	repo := &stubRuleRepo{rules: []domain.PriorityRule{
		{Scope: domain.RuleScopeGlobal, RuleKey: "low_adherence", Weight: 4, IsActive: true},
	}}
	svc := NewService(repo, newMemoryCache(), time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := svc.Effective(context.Background(), "tenant-1"); err != nil {
			t.Fatalf("запрос %d: %v", i, err)
		}
	}
	if repo.listCalls != 1 {
		t.Fatalf("повторные запросы должны идти из кэша: ожидали 1 обращение к БД, получили %d", repo.listCalls)
	}
}

func TestUpsertInvalidatesTenantCache(t *testing.T) {
	repo := &stubRuleRepo{}
	cache := newMemoryCache()
	svc := NewService(repo, cache, time.Minute, zerolog.Nop())

	if _, err := svc.Effective(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("прогрев кэша: %v", err)
	}
	rule := domain.PriorityRule{Scope: "tenant-1", RuleKey: "lab_high_risk", Weight: 8, IsActive: true}
	if _, err := svc.Upsert(context.Background(), rule); err != nil {
		t.Fatalf("сохранение: %v", err)
	}

	effective, err := svc.Effective(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("повторный запрос: %v", err)
	}
	if got := effective["lab_high_risk"].Weight; got != 8 {
		t.Fatalf("после сохранения кэш должен сброситься: ожидали 8, получили %v", got)
	}
}

func TestUpsertValidation(t *testing.T) {
	svc := NewService(&stubRuleRepo{}, nil, time.Minute, zerolog.Nop())
	if _, err := svc.Upsert(context.Background(), domain.PriorityRule{Scope: "tenant-1"}); err == nil {
		t.Fatal("правило без rule_key должно отклоняться")
	}
	saved, err := svc.Upsert(context.Background(), domain.PriorityRule{RuleKey: "pending_data", Weight: 5, IsActive: true})
	if err != nil {
		t.Fatalf("сохранение: %v", err)
	}
	if saved.Scope != domain.RuleScopeGlobal {
		t.Fatalf("пустая область должна становиться глобальной, получили %q", saved.Scope)
	}
}
