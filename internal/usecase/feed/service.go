// Package feed реализует реконсиляцию сигналов и переходы состояний задач ленты.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"practice-feed/internal/domain"
	"practice-feed/internal/infra/metrics"
)

// Service реализует бизнес-логику ленты задач.
type Service struct {
	tasks  domain.TaskRepo
	rules  domain.RuleProvider
	scorer domain.Scorer
	log    zerolog.Logger
}

var _ domain.FeedService = (*Service)(nil)

// NewService создаёт сервис ленты.
func NewService(tasks domain.TaskRepo, rules domain.RuleProvider, scorer domain.Scorer, logger zerolog.Logger) *Service {
	return &Service{tasks: tasks, rules: rules, scorer: scorer, log: logger}
}

// TaskStates возвращает задачи арендатора по убыванию приоритета.
func (s *Service) TaskStates(ctx context.Context, tenantID string) ([]domain.FeedTask, error) {
	tasks, err := s.tasks.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("получение задач ленты: %w", err)
	}
	return tasks, nil
}

// SyncFromSignals прогоняет свежий срез сигналов через машину состояний.
// Сигналы, пропавшие из среза, не трогаются: отсутствие сигнала не считается
// разрешением задачи. Ошибка записи одной задачи не прерывает проход.
func (s *Service) SyncFromSignals(ctx context.Context, tenantID string, signals []domain.FeedSignal) ([]domain.FeedTask, error) {
	rules, err := s.rules.Effective(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("получение правил: %w", err)
	}
	existing, err := s.tasks.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("получение текущих состояний: %w", err)
	}
	byIdentity := make(map[domain.TaskIdentity]domain.FeedTask, len(existing))
	for _, task := range existing {
		byIdentity[task.Identity] = task
	}

	now := time.Now().UTC()
	result := make([]domain.FeedTask, 0, len(signals))
	for _, sig := range signals {
		if sig.TenantID == "" {
			sig.TenantID = tenantID
		}
		identity := sig.Identity()
		if err := identity.Validate(); err != nil {
			s.log.Warn().Str("identity", identity.String()).Msg("сигнал без полной идентичности пропущен")
			continue
		}

		score, reason := s.scorer.Score(sig, rules)
		change, auditAction := s.nextChange(byIdentity, sig, score, reason, now)

		task, err := s.tasks.UpsertTask(ctx, identity, change, auditAction)
		if err != nil {
			s.log.Error().Err(err).Str("identity", identity.String()).Msg("не удалось применить сигнал")
			continue
		}
		if auditAction != "" {
			metrics.IncTransition(auditAction)
		}
		result = append(result, task)
	}
	return result, nil
}

// nextChange решает следующий шаг машины состояний для одного сигнала.
func (s *Service) nextChange(byIdentity map[domain.TaskIdentity]domain.FeedTask, sig domain.FeedSignal, score float64, reason string, now time.Time) (domain.TaskUpsert, string) {
	change := domain.TaskUpsert{
		Title:       ptr(sig.Title),
		Description: ptr(sig.Description),
		SeenAt:      ptr(now),
	}
	if sig.SubjectID != "" {
		change.SubjectID = ptr(sig.SubjectID)
	}

	existing, ok := byIdentity[sig.Identity()]
	if !ok {
		change.PriorityScore = ptr(score)
		change.PriorityReason = ptr(reason)
		return change, domain.AuditActionCreated
	}

	switch {
	case existing.Status == domain.StatusResolved:
		// Закрытая задача не должна всплывать с новым рангом: счёт заморожен.
		return change, ""
	case existing.Status == domain.StatusSnoozed && existing.SnoozeUntil != nil && existing.SnoozeUntil.After(now):
		change.PriorityScore = ptr(score)
		change.PriorityReason = ptr(reason)
		return change, ""
	case existing.Status == domain.StatusSnoozed:
		// Единственный неявный переход: срок откладывания истёк.
		change.PriorityScore = ptr(score)
		change.PriorityReason = ptr(reason)
		change.Status = ptr(domain.StatusOpen)
		return change, domain.AuditActionExpired
	default:
		change.PriorityScore = ptr(score)
		change.PriorityReason = ptr(reason)
		return change, ""
	}
}

// Resolve закрывает задачу. Неизвестная идентичность — ошибка, фантомные
// записи не создаются.
func (s *Service) Resolve(ctx context.Context, identity domain.TaskIdentity) (domain.FeedTask, error) {
	if err := identity.Validate(); err != nil {
		return domain.FeedTask{}, err
	}
	existing, err := s.tasks.GetTask(ctx, identity)
	if err != nil {
		return domain.FeedTask{}, err
	}
	if existing.Status == domain.StatusResolved {
		return existing, nil
	}
	task, err := s.tasks.UpsertTask(ctx, identity, domain.TaskUpsert{
		Status: ptr(domain.StatusResolved),
	}, domain.AuditActionResolved)
	if err != nil {
		return domain.FeedTask{}, fmt.Errorf("закрытие задачи %s: %w", identity, err)
	}
	metrics.IncTransition(domain.AuditActionResolved)
	return task, nil
}

// Snooze откладывает задачу до until. До записи валидируется и идентичность,
// и момент: прошедший until отклоняется, автопросрочка на записи не делается.
// Закрытая задача не откладывается — из resolved выводит только Reopen.
func (s *Service) Snooze(ctx context.Context, identity domain.TaskIdentity, until time.Time) (domain.FeedTask, error) {
	if err := identity.Validate(); err != nil {
		return domain.FeedTask{}, err
	}
	if until.IsZero() {
		return domain.FeedTask{}, domain.ErrSnoozeUntilRequired
	}
	if !until.After(time.Now().UTC()) {
		return domain.FeedTask{}, domain.ErrSnoozeUntilPast
	}
	existing, err := s.tasks.GetTask(ctx, identity)
	if err != nil {
		return domain.FeedTask{}, err
	}
	if existing.Status == domain.StatusResolved {
		return domain.FeedTask{}, domain.ErrResolvedTask
	}
	task, err := s.tasks.UpsertTask(ctx, identity, domain.TaskUpsert{
		Status:      ptr(domain.StatusSnoozed),
		SnoozeUntil: ptr(until.UTC()),
	}, domain.AuditActionSnoozed)
	if err != nil {
		return domain.FeedTask{}, fmt.Errorf("откладывание задачи %s: %w", identity, err)
	}
	metrics.IncTransition(domain.AuditActionSnoozed)
	return task, nil
}

// Reopen возвращает закрытую задачу в работу. Допустим только из resolved.
func (s *Service) Reopen(ctx context.Context, identity domain.TaskIdentity) (domain.FeedTask, error) {
	if err := identity.Validate(); err != nil {
		return domain.FeedTask{}, err
	}
	existing, err := s.tasks.GetTask(ctx, identity)
	if err != nil {
		return domain.FeedTask{}, err
	}
	if existing.Status != domain.StatusResolved {
		return domain.FeedTask{}, domain.ErrNotResolved
	}
	task, err := s.tasks.UpsertTask(ctx, identity, domain.TaskUpsert{
		Status: ptr(domain.StatusOpen),
	}, domain.AuditActionReopened)
	if err != nil {
		return domain.FeedTask{}, fmt.Errorf("переоткрытие задачи %s: %w", identity, err)
	}
	metrics.IncTransition(domain.AuditActionReopened)
	return task, nil
}

// ResolveBatch закрывает задачи по одной: сбой на одной идентичности не
// откатывает остальные.
func (s *Service) ResolveBatch(ctx context.Context, identities []domain.TaskIdentity) (domain.BatchResult, error) {
	var result domain.BatchResult
	for _, identity := range identities {
		task, err := s.Resolve(ctx, identity)
		if err != nil {
			s.log.Warn().Err(err).Str("identity", identity.String()).Msg("пакетное закрытие: элемент пропущен")
			result.FailedCount++
			continue
		}
		result.Succeeded = append(result.Succeeded, task)
	}
	return result, nil
}

// SnoozeBatch откладывает задачи по одной с теми же гарантиями, что ResolveBatch.
func (s *Service) SnoozeBatch(ctx context.Context, identities []domain.TaskIdentity, until time.Time) (domain.BatchResult, error) {
	var result domain.BatchResult
	for _, identity := range identities {
		task, err := s.Snooze(ctx, identity, until)
		if err != nil {
			s.log.Warn().Err(err).Str("identity", identity.String()).Msg("пакетное откладывание: элемент пропущен")
			result.FailedCount++
			continue
		}
		result.Succeeded = append(result.Succeeded, task)
	}
	return result, nil
}

// AuditTrail возвращает свежую историю переходов задачи, не больше лимита хранения.
func (s *Service) AuditTrail(ctx context.Context, identity domain.TaskIdentity, limit int) ([]domain.AuditEntry, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > domain.AuditHistoryLimit {
		limit = domain.AuditHistoryLimit
	}
	entries, err := s.tasks.GetAudit(ctx, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("чтение истории %s: %w", identity, err)
	}
	return entries, nil
}

func ptr[T any](v T) *T {
	return &v
}
