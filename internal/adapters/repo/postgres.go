package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"practice-feed/internal/domain"
	"practice-feed/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.TaskRepo   = (*Postgres)(nil)
	_ domain.RuleRepo   = (*Postgres)(nil)
	_ domain.TenantRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const taskColumns = `id, tenant_id, subject_id, source_type, source_id, title, description,
priority_score, priority_reason, status, snooze_until, metadata,
first_seen_at, last_seen_at, resolved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.FeedTask, error) {
	var (
		task        domain.FeedTask
		subjectID   sql.NullString
		description sql.NullString
		snoozeUntil sql.NullTime
		resolvedAt  sql.NullTime
		rawMeta     []byte
	)
	err := row.Scan(
		&task.ID, &task.Identity.TenantID, &subjectID, &task.Identity.SourceType, &task.Identity.SourceID,
		&task.Title, &description, &task.PriorityScore, &task.PriorityReason, &task.Status,
		&snoozeUntil, &rawMeta, &task.FirstSeenAt, &task.LastSeenAt, &resolvedAt,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return domain.FeedTask{}, err
	}
	if subjectID.Valid {
		task.SubjectID = subjectID.String
	}
	if description.Valid {
		task.Description = description.String
	}
	if snoozeUntil.Valid {
		ts := snoozeUntil.Time
		task.SnoozeUntil = &ts
	}
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		task.ResolvedAt = &ts
	}
	task.Metadata = map[string]any{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &task.Metadata); err != nil {
			return domain.FeedTask{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return task, nil
}

// GetTask возвращает задачу по кортежу идентичности.
func (p *Postgres) GetTask(ctx context.Context, identity domain.TaskIdentity) (domain.FeedTask, error) {
	if err := identity.Validate(); err != nil {
		return domain.FeedTask{}, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+taskColumns+`
FROM feed_tasks
WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3
`, identity.TenantID, identity.SourceType, identity.SourceID)
	task, err := scanTask(row)
	metrics.ObserveNetworkRequest("postgres", "feed_tasks_get", "feed_tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedTask{}, domain.ErrTaskNotFound
	}
	return task, err
}

// UpsertTask атомарно создаёт или обновляет задачу: существующая строка блокируется
// FOR UPDATE, слияние метаданных выполняется на заблокированном снимке, запись уходит
// через ON CONFLICT по уникальному кортежу. Гонка двух создателей разрешается
// констрейнтом — побеждает последний коммит.
func (p *Postgres) UpsertTask(ctx context.Context, identity domain.TaskIdentity, change domain.TaskUpsert, auditAction string) (domain.FeedTask, error) {
	if err := identity.Validate(); err != nil {
		return domain.FeedTask{}, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "feed_tasks", start, err)
	if err != nil {
		return domain.FeedTask{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	row := tx.QueryRow(ctx, `
SELECT `+taskColumns+`
FROM feed_tasks
WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3
FOR UPDATE
`, identity.TenantID, identity.SourceType, identity.SourceID)
	existing, err := scanTask(row)
	metrics.ObserveNetworkRequest("postgres", "feed_tasks_lock", "feed_tasks", start, err)
	hasExisting := true
	if errors.Is(err, pgx.ErrNoRows) {
		hasExisting = false
	} else if err != nil {
		return domain.FeedTask{}, err
	}

	now := time.Now().UTC()
	var next domain.FeedTask
	if hasExisting {
		next = nextTask(&existing, identity, change, auditAction, now)
	} else {
		next = nextTask(nil, identity, change, auditAction, now)
	}

	rawMeta, err := json.Marshal(next.Metadata)
	if err != nil {
		return domain.FeedTask{}, fmt.Errorf("encode metadata: %w", err)
	}

	var subjectID, description, snoozeUntil, resolvedAt any
	if next.SubjectID != "" {
		subjectID = next.SubjectID
	}
	if next.Description != "" {
		description = next.Description
	}
	if next.SnoozeUntil != nil {
		snoozeUntil = *next.SnoozeUntil
	}
	if next.ResolvedAt != nil {
		resolvedAt = *next.ResolvedAt
	}

	start = time.Now()
	row = tx.QueryRow(ctx, `
INSERT INTO feed_tasks (id, tenant_id, subject_id, source_type, source_id, title, description,
	priority_score, priority_reason, status, snooze_until, metadata,
	first_seen_at, last_seen_at, resolved_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())
ON CONFLICT (tenant_id, source_type, source_id) DO UPDATE SET
	subject_id=EXCLUDED.subject_id,
	title=EXCLUDED.title,
	description=EXCLUDED.description,
	priority_score=EXCLUDED.priority_score,
	priority_reason=EXCLUDED.priority_reason,
	status=EXCLUDED.status,
	snooze_until=EXCLUDED.snooze_until,
	metadata=EXCLUDED.metadata,
	last_seen_at=EXCLUDED.last_seen_at,
	resolved_at=EXCLUDED.resolved_at,
	updated_at=now()
RETURNING `+taskColumns+`
`, next.ID, identity.TenantID, subjectID, identity.SourceType, identity.SourceID,
		next.Title, description, next.PriorityScore, next.PriorityReason, next.Status,
		snoozeUntil, rawMeta, next.FirstSeenAt, next.LastSeenAt, resolvedAt)
	saved, err := scanTask(row)
	metrics.ObserveNetworkRequest("postgres", "feed_tasks_upsert", "feed_tasks", start, err)
	if err != nil {
		return domain.FeedTask{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "feed_tasks", start, err)
	if err != nil {
		return domain.FeedTask{}, err
	}
	return saved, nil
}

// nextTask собирает следующую версию задачи: nil-поля изменения сохраняют текущие
// значения, resolved_at и snooze_until выводятся из итогового статуса.
func nextTask(existing *domain.FeedTask, identity domain.TaskIdentity, change domain.TaskUpsert, auditAction string, now time.Time) domain.FeedTask {
	var task domain.FeedTask
	if existing != nil {
		task = *existing
	} else {
		task = domain.FeedTask{
			ID:          uuid.NewString(),
			Identity:    identity,
			Status:      domain.StatusOpen,
			FirstSeenAt: now,
			LastSeenAt:  now,
			Metadata:    map[string]any{},
		}
	}

	if change.SubjectID != nil {
		task.SubjectID = *change.SubjectID
	}
	if change.Title != nil {
		task.Title = *change.Title
	}
	if change.Description != nil {
		task.Description = *change.Description
	}
	if change.PriorityScore != nil {
		task.PriorityScore = *change.PriorityScore
	}
	if change.PriorityReason != nil {
		task.PriorityReason = *change.PriorityReason
	}
	if change.Status != nil {
		task.Status = *change.Status
	}
	if change.SnoozeUntil != nil {
		ts := *change.SnoozeUntil
		task.SnoozeUntil = &ts
	}
	if change.SeenAt != nil {
		task.LastSeenAt = *change.SeenAt
	}

	// Сначала выводим resolved_at и snooze_until из итогового статуса: запись
	// истории должна фиксировать согласованный снимок, а не устаревший snooze
	// закрываемой задачи.
	switch task.Status {
	case domain.StatusResolved:
		if task.ResolvedAt == nil {
			ts := now
			task.ResolvedAt = &ts
		}
		task.SnoozeUntil = nil
	case domain.StatusSnoozed:
		task.ResolvedAt = nil
	default:
		task.ResolvedAt = nil
		task.SnoozeUntil = nil
	}

	task.Metadata = domain.MergeMetadata(task.Metadata, change.Metadata)
	if auditAction != "" {
		task.Metadata = domain.AppendAudit(task.Metadata, domain.AuditEntry{
			Action:      auditAction,
			At:          now,
			TenantID:    identity.TenantID,
			SubjectID:   task.SubjectID,
			SourceType:  identity.SourceType,
			SourceID:    identity.SourceID,
			Status:      task.Status,
			SnoozeUntil: task.SnoozeUntil,
		})
	}
	task.UpdatedAt = now
	return task
}

// ListByTenant возвращает задачи арендатора по убыванию приоритета.
func (p *Postgres) ListByTenant(ctx context.Context, tenantID string) ([]domain.FeedTask, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM feed_tasks
WHERE tenant_id=$1
ORDER BY priority_score DESC, last_seen_at DESC
`, tenantID)
	metrics.ObserveNetworkRequest("postgres", "feed_tasks_list", "feed_tasks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.FeedTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetAudit возвращает до limit свежих записей истории переходов задачи.
func (p *Postgres) GetAudit(ctx context.Context, identity domain.TaskIdentity, limit int) ([]domain.AuditEntry, error) {
	task, err := p.GetTask(ctx, identity)
	if err != nil {
		return nil, err
	}
	return domain.AuditHistory(task.Metadata, limit), nil
}
