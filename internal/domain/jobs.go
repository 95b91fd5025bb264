package domain

import (
	"context"
	"time"
)

// ReconcileCause описывает источник запроса на реконсиляцию.
type ReconcileCause string

const (
	// ReconcileCauseManual — проход запрошен вручную через API.
	ReconcileCauseManual ReconcileCause = "manual"
	// ReconcileCauseScheduled — проход запланирован по расписанию.
	ReconcileCauseScheduled ReconcileCause = "scheduled"
)

// ReconcileJob содержит информацию о задаче реконсиляции ленты арендатора.
type ReconcileJob struct {
	ID          string         `json:"job_id,omitempty"`
	TenantID    string         `json:"tenant_id"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       ReconcileCause `json:"cause"`
}

// ReconcileQueue описывает очередь задач реконсиляции.
type ReconcileQueue interface {
	Enqueue(ctx context.Context, job ReconcileJob) error
	Receive(ctx context.Context) (ReconcileJob, ReconcileAckFunc, error)
}

// ReconcileAckFunc подтверждает обработку задачи или запрашивает повторную доставку.
type ReconcileAckFunc func(success bool) error
