package domain

import (
	"fmt"
	"time"
)

// SourceType определяет категорию сигнала ленты.
type SourceType string

const (
	// SourcePendingData — просроченные данные или оплата пациента.
	SourcePendingData SourceType = "pending_data"
	// SourceLowAdherence — пациент давно не вёл записи.
	SourceLowAdherence SourceType = "low_adherence"
	// SourceAppointmentUpcoming — скорый приём.
	SourceAppointmentUpcoming SourceType = "appointment_upcoming"
	// SourceLabHighRisk — тревожный результат анализов.
	SourceLabHighRisk SourceType = "lab_high_risk"
	// SourceRecentActivity — прочая активность без собственной категории.
	SourceRecentActivity SourceType = "recent_activity"
)

// TaskStatus описывает состояние задачи ленты.
type TaskStatus string

const (
	// StatusOpen — задача видна специалисту.
	StatusOpen TaskStatus = "open"
	// StatusSnoozed — задача скрыта до snooze_until.
	StatusSnoozed TaskStatus = "snoozed"
	// StatusResolved — задача закрыта, но может быть переоткрыта.
	StatusResolved TaskStatus = "resolved"
)

// Действия, попадающие в историю переходов.
const (
	AuditActionCreated  = "created"
	AuditActionResolved = "resolved"
	AuditActionSnoozed  = "snoozed"
	AuditActionReopened = "reopened"
	AuditActionExpired  = "snooze_expired"
)

// TaskIdentity — стабильный ключ задачи: ровно одна запись на кортеж.
type TaskIdentity struct {
	TenantID   string     `json:"tenant_id"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
}

// String возвращает кортеж в виде ключа для логов и кэша.
func (id TaskIdentity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.TenantID, id.SourceType, id.SourceID)
}

// Validate проверяет заполненность кортежа.
func (id TaskIdentity) Validate() error {
	if id.TenantID == "" || id.SourceType == "" || id.SourceID == "" {
		return ErrIdentityIncomplete
	}
	return nil
}

// SignalAttrs несёт сырые атрибуты сигнала; заполняются только поля своей категории.
type SignalAttrs struct {
	DaysInactive  int     `json:"days_inactive,omitempty"`
	HoursToEvent  float64 `json:"hours_to_event,omitempty"`
	DaysOverdue   int     `json:"days_overdue,omitempty"`
	AmountOverdue int64   `json:"amount_overdue,omitempty"`
	RiskLevel     string  `json:"risk_level,omitempty"`
}

// FeedSignal — эфемерный кандидат в ленту, пересчитывается на каждом проходе
// и никогда не сохраняется как есть.
type FeedSignal struct {
	SourceType  SourceType  `json:"source_type"`
	SourceID    string      `json:"source_id"`
	TenantID    string      `json:"tenant_id"`
	SubjectID   string      `json:"subject_id,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Attrs       SignalAttrs `json:"attrs"`
}

// Identity возвращает кортеж идентичности сигнала.
func (s FeedSignal) Identity() TaskIdentity {
	return TaskIdentity{TenantID: s.TenantID, SourceType: s.SourceType, SourceID: s.SourceID}
}

// FeedTask — долговечная запись ленты, единственная на кортеж идентичности.
type FeedTask struct {
	ID             string         `json:"id"`
	Identity       TaskIdentity   `json:"identity"`
	SubjectID      string         `json:"subject_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	PriorityScore  float64        `json:"priority_score"`
	PriorityReason string         `json:"priority_reason"`
	Status         TaskStatus     `json:"status"`
	SnoozeUntil    *time.Time     `json:"snooze_until,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	FirstSeenAt    time.Time      `json:"first_seen_at"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AuditEntry — одна запись истории переходов; после добавления не изменяется.
type AuditEntry struct {
	Action      string     `json:"action"`
	At          time.Time  `json:"at"`
	TenantID    string     `json:"tenant_id"`
	SubjectID   string     `json:"subject_id,omitempty"`
	SourceType  SourceType `json:"source_type"`
	SourceID    string     `json:"source_id"`
	Status      TaskStatus `json:"status"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
}

// RuleScopeGlobal — область действия правила по умолчанию.
const RuleScopeGlobal = "global"

// PriorityRule — взвешенное правило скоринга; правило арендатора перекрывает глобальное
// с тем же ключом.
type PriorityRule struct {
	Scope    string         `json:"scope"`
	RuleKey  string         `json:"rule_key"`
	Weight   float64        `json:"weight"`
	Config   map[string]any `json:"config,omitempty"`
	IsActive bool           `json:"is_active"`
}

// ConfigInt читает целочисленный порог из конфига правила.
func (r PriorityRule) ConfigInt(key string, fallback int) int {
	raw, ok := r.Config[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Tenant — практика (арендатор) в реестре реконсиляции.
type Tenant struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	IsActive          bool      `json:"is_active"`
	ReconcileInterval int       `json:"reconcile_interval_minutes"`
	CreatedAt         time.Time `json:"created_at"`
}

// BatchResult — итог пакетного перехода; частичный успех ожидаем.
type BatchResult struct {
	Succeeded   []FeedTask `json:"succeeded"`
	FailedCount int        `json:"failed_count"`
}
