package repo

import (
	"testing"
	"time"

	"practice-feed/internal/domain"
)

func taskPtr[T any](v T) *T {
	return &v
}

func TestNextTaskAuditRecordsDerivedSnapshot(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	existing := domain.FeedTask{
		ID:          "task-1",
		Identity:    domain.TaskIdentity{TenantID: "t1", SourceType: domain.SourceLowAdherence, SourceID: "p1"},
		Status:      domain.StatusSnoozed,
		SnoozeUntil: &until,
		Metadata:    map[string]any{},
		FirstSeenAt: now.Add(-time.Hour),
		LastSeenAt:  now.Add(-time.Hour),
	}

	next := nextTask(&existing, existing.Identity, domain.TaskUpsert{
		Status: taskPtr(domain.StatusResolved),
	}, domain.AuditActionResolved, now)

	if next.Status != domain.StatusResolved {
		t.Fatalf("ожидали resolved, получили %s", next.Status)
	}
	if next.SnoozeUntil != nil {
		t.Fatalf("snooze_until закрытой задачи должен очищаться, получили %v", next.SnoozeUntil)
	}
	if next.ResolvedAt == nil || !next.ResolvedAt.Equal(now) {
		t.Fatalf("ожидали resolved_at = %v, получили %v", now, next.ResolvedAt)
	}

	history := domain.AuditHistory(next.Metadata, 10)
	if len(history) != 1 {
		t.Fatalf("ожидали 1 запись истории, получили %d", len(history))
	}
	entry := history[0]
	if entry.Status != domain.StatusResolved {
		t.Fatalf("запись истории должна фиксировать итоговый статус, получили %s", entry.Status)
	}
	// Запись закрытия не должна тащить устаревший snooze_until отложенной задачи.
	if entry.SnoozeUntil != nil {
		t.Fatalf("запись истории не должна содержать старый snooze_until: %v", entry.SnoozeUntil)
	}
}

func TestNextTaskCreatesOpenWithDefaults(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	identity := domain.TaskIdentity{TenantID: "t1", SourceType: domain.SourcePendingData, SourceID: "r1"}

	next := nextTask(nil, identity, domain.TaskUpsert{
		Title:          taskPtr("Просроченные данные"),
		PriorityScore:  taskPtr(5.0),
		PriorityReason: taskPtr("данные просрочены на 8 дн."),
		SeenAt:         taskPtr(now),
	}, domain.AuditActionCreated, now)

	if next.ID == "" {
		t.Fatal("новой задаче должен назначаться идентификатор")
	}
	if next.Status != domain.StatusOpen {
		t.Fatalf("новая задача создаётся open, получили %s", next.Status)
	}
	if !next.FirstSeenAt.Equal(now) || !next.LastSeenAt.Equal(now) {
		t.Fatalf("first/last_seen_at должны ставиться в now: %v %v", next.FirstSeenAt, next.LastSeenAt)
	}
	history := domain.AuditHistory(next.Metadata, 10)
	if len(history) != 1 || history[0].Action != domain.AuditActionCreated {
		t.Fatalf("ожидали запись created, получили %+v", history)
	}
}
