package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"practice-feed/internal/domain"
	"practice-feed/internal/infra/metrics"
)

// ListRules возвращает активные правила для арендатора: глобальные и его собственные.
func (p *Postgres) ListRules(ctx context.Context, tenantID string) ([]domain.PriorityRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT scope, rule_key, weight, config, is_active
FROM priority_rules
WHERE is_active AND scope IN ($1, $2)
ORDER BY rule_key, scope
`, domain.RuleScopeGlobal, tenantID)
	metrics.ObserveNetworkRequest("postgres", "priority_rules_list", "priority_rules", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.PriorityRule
	for rows.Next() {
		var (
			rule      domain.PriorityRule
			rawConfig []byte
		)
		if err := rows.Scan(&rule.Scope, &rule.RuleKey, &rule.Weight, &rawConfig, &rule.IsActive); err != nil {
			return nil, err
		}
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &rule.Config); err != nil {
				return nil, fmt.Errorf("decode rule config: %w", err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertRule сохраняет правило по ключу (scope, rule_key).
func (p *Postgres) UpsertRule(ctx context.Context, rule domain.PriorityRule) (domain.PriorityRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	rawConfig, err := json.Marshal(rule.Config)
	if err != nil {
		return domain.PriorityRule{}, fmt.Errorf("encode rule config: %w", err)
	}

	var saved domain.PriorityRule
	var savedConfig []byte
	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO priority_rules (scope, rule_key, weight, config, is_active, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (scope, rule_key) DO UPDATE SET
	weight=EXCLUDED.weight,
	config=EXCLUDED.config,
	is_active=EXCLUDED.is_active,
	updated_at=now()
RETURNING scope, rule_key, weight, config, is_active
`, rule.Scope, rule.RuleKey, rule.Weight, rawConfig, rule.IsActive).
		Scan(&saved.Scope, &saved.RuleKey, &saved.Weight, &savedConfig, &saved.IsActive)
	metrics.ObserveNetworkRequest("postgres", "priority_rules_upsert", "priority_rules", start, err)
	if err != nil {
		return domain.PriorityRule{}, err
	}
	if len(savedConfig) > 0 {
		if err := json.Unmarshal(savedConfig, &saved.Config); err != nil {
			return domain.PriorityRule{}, fmt.Errorf("decode rule config: %w", err)
		}
	}
	return saved, nil
}

// ListActiveTenants возвращает арендаторов, участвующих в реконсиляции.
func (p *Postgres) ListActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, is_active, reconcile_interval_minutes, created_at
FROM tenants
WHERE is_active
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "tenants_list_active", "tenants", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.IsActive, &t.ReconcileInterval, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
