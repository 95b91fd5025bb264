package domain

import (
	"encoding/json"
	"time"
)

// AuditHistoryLimit ограничивает хранимую историю переходов: это журнал недавних
// действий, а не полный реестр событий.
const AuditHistoryLimit = 10

// Служебные ключи метаданных задачи.
const (
	MetaAuditHistory = "auditHistory"
	MetaLastAction   = "lastAction"
	MetaLastActionAt = "lastActionAt"
)

// MergeMetadata сливает метаданные: новые ключи перекрывают старые, но auditHistory
// не затирается целиком — истории объединяются, свежие записи впереди.
func MergeMetadata(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		if k == MetaAuditHistory {
			continue
		}
		merged[k] = v
	}

	history := decodeAuditHistory(existing[MetaAuditHistory])
	if extra := decodeAuditHistory(incoming[MetaAuditHistory]); len(extra) > 0 {
		history = append(extra, history...)
	}
	if len(history) > AuditHistoryLimit {
		history = history[:AuditHistoryLimit]
	}
	merged[MetaAuditHistory] = history
	return merged
}

// AppendAudit добавляет запись в начало истории, усекая её до лимита, и обновляет
// lastAction/lastActionAt.
func AppendAudit(meta map[string]any, entry AuditEntry) map[string]any {
	if meta == nil {
		meta = make(map[string]any, 3)
	}
	history := append([]AuditEntry{entry}, decodeAuditHistory(meta[MetaAuditHistory])...)
	if len(history) > AuditHistoryLimit {
		history = history[:AuditHistoryLimit]
	}
	meta[MetaAuditHistory] = history
	meta[MetaLastAction] = entry.Action
	meta[MetaLastActionAt] = entry.At.UTC().Format(time.RFC3339Nano)
	return meta
}

// AuditHistory возвращает до limit самых свежих записей истории.
func AuditHistory(meta map[string]any, limit int) []AuditEntry {
	history := decodeAuditHistory(meta[MetaAuditHistory])
	if limit <= 0 || limit > AuditHistoryLimit {
		limit = AuditHistoryLimit
	}
	if len(history) > limit {
		history = history[:limit]
	}
	return history
}

// decodeAuditHistory приводит историю к типизированному виду: после чтения из jsonb
// записи приходят как []any с map внутри.
func decodeAuditHistory(raw any) []AuditEntry {
	switch v := raw.(type) {
	case nil:
		return nil
	case []AuditEntry:
		return append([]AuditEntry(nil), v...)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var entries []AuditEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil
		}
		return entries
	}
}
