package domain

import (
	"context"
	"time"
)

// TaskUpsert описывает частичное обновление задачи: nil-поля не меняют сохранённые
// значения. SnoozeUntil учитывается только вместе со статусом snoozed — для остальных
// статусов хранилище само обнуляет snooze_until.
type TaskUpsert struct {
	SubjectID      *string
	Title          *string
	Description    *string
	PriorityScore  *float64
	PriorityReason *string
	Status         *TaskStatus
	SnoozeUntil    *time.Time
	Metadata       map[string]any
	SeenAt         *time.Time
}

// TaskRepo управляет долговечными задачами ленты.
type TaskRepo interface {
	// GetTask возвращает задачу по кортежу или ErrTaskNotFound.
	GetTask(ctx context.Context, identity TaskIdentity) (FeedTask, error)
	// UpsertTask атомарно создаёт или обновляет задачу. auditAction != "" добавляет
	// запись в историю переходов. Двойной вызов с теми же полями даёт одну запись.
	UpsertTask(ctx context.Context, identity TaskIdentity, change TaskUpsert, auditAction string) (FeedTask, error)
	// ListByTenant возвращает задачи арендатора по убыванию приоритета.
	ListByTenant(ctx context.Context, tenantID string) ([]FeedTask, error)
	// GetAudit возвращает до limit свежих записей истории переходов.
	GetAudit(ctx context.Context, identity TaskIdentity, limit int) ([]AuditEntry, error)
}

// RuleRepo управляет правилами приоритизации.
type RuleRepo interface {
	// ListRules возвращает активные глобальные правила и правила арендатора.
	ListRules(ctx context.Context, tenantID string) ([]PriorityRule, error)
	// UpsertRule сохраняет правило по ключу (scope, rule_key).
	UpsertRule(ctx context.Context, rule PriorityRule) (PriorityRule, error)
}

// TenantRepo читает реестр арендаторов.
type TenantRepo interface {
	ListActiveTenants(ctx context.Context) ([]Tenant, error)
}

// RuleProvider отдаёт действующий набор правил арендатора, проиндексированный
// по rule_key (правило арендатора уже перекрыло глобальное).
type RuleProvider interface {
	Effective(ctx context.Context, tenantID string) (map[string]PriorityRule, error)
}

// Scorer аннотирует сигнал числовым приоритетом и причиной. Чистая функция:
// одинаковые входы дают одинаковый результат.
type Scorer interface {
	Score(signal FeedSignal, rules map[string]PriorityRule) (float64, string)
}

// SignalSource — внешний производитель сигналов одной категории.
type SignalSource interface {
	Category() SourceType
	Fetch(ctx context.Context, tenantID string) ([]FeedSignal, error)
}

// FeedService отвечает за реконсиляцию и переходы состояний задач ленты.
type FeedService interface {
	TaskStates(ctx context.Context, tenantID string) ([]FeedTask, error)
	SyncFromSignals(ctx context.Context, tenantID string, signals []FeedSignal) ([]FeedTask, error)
	Resolve(ctx context.Context, identity TaskIdentity) (FeedTask, error)
	Snooze(ctx context.Context, identity TaskIdentity, until time.Time) (FeedTask, error)
	Reopen(ctx context.Context, identity TaskIdentity) (FeedTask, error)
	ResolveBatch(ctx context.Context, identities []TaskIdentity) (BatchResult, error)
	SnoozeBatch(ctx context.Context, identities []TaskIdentity, until time.Time) (BatchResult, error)
	AuditTrail(ctx context.Context, identity TaskIdentity, limit int) ([]AuditEntry, error)
}

// Cache используется для простых TTL-хранилищ и дедупликации.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Del(key string) error
}
