package scorer

import (
	"fmt"

	"practice-feed/internal/domain"
)

// Базовые веса категорий; правило с тем же ключом перекрывает вес.
var baseWeights = map[domain.SourceType]float64{
	domain.SourcePendingData:         5,
	domain.SourceLowAdherence:        4,
	domain.SourceAppointmentUpcoming: 3,
	domain.SourceLabHighRisk:         5,
	domain.SourceRecentActivity:      1,
}

// Пороговые значения по умолчанию, когда правило не задаёт свои.
const (
	defaultInactiveDays = 3
	defaultOverdueDays  = 7
)

// SimpleScorer применяет эвристический скоринг сигналов ленты.
type SimpleScorer struct{}

// NewSimple создаёт скорер.
func NewSimple() *SimpleScorer {
	return &SimpleScorer{}
}

var _ domain.Scorer = (*SimpleScorer)(nil)

// Score возвращает приоритет и причину. Поправка к весу ограничена диапазоном 0..2.
func (s *SimpleScorer) Score(signal domain.FeedSignal, rules map[string]domain.PriorityRule) (float64, string) {
	weight, ok := baseWeights[signal.SourceType]
	if !ok {
		weight = baseWeights[domain.SourceRecentActivity]
	}

	rule, hasRule := rules[string(signal.SourceType)]
	if hasRule && rule.IsActive {
		weight = rule.Weight
	} else {
		rule = domain.PriorityRule{}
	}

	var adjust float64
	var reason string
	switch signal.SourceType {
	case domain.SourceLowAdherence:
		threshold := rule.ConfigInt("days_inactive_threshold", defaultInactiveDays)
		days := signal.Attrs.DaysInactive
		switch {
		case days >= threshold+3:
			adjust = 2
		case days >= threshold:
			adjust = 1
		}
		reason = fmt.Sprintf("%d дн. без записей", days)
	case domain.SourceAppointmentUpcoming:
		hours := signal.Attrs.HoursToEvent
		switch {
		case hours >= 0 && hours <= 2:
			adjust = 2
		case hours > 2 && hours <= 12:
			adjust = 1
		}
		reason = fmt.Sprintf("приём через %.0f ч.", hours)
	case domain.SourcePendingData:
		threshold := rule.ConfigInt("days_overdue_threshold", defaultOverdueDays)
		days := signal.Attrs.DaysOverdue
		switch {
		case threshold > 0 && days >= 2*threshold:
			adjust = 2
		case days >= threshold:
			adjust = 1
		}
		reason = fmt.Sprintf("данные просрочены на %d дн.", days)
	case domain.SourceLabHighRisk:
		switch signal.Attrs.RiskLevel {
		case "critical":
			adjust = 2
		case "high":
			adjust = 1
		}
		reason = fmt.Sprintf("риск по анализам: %s", signal.Attrs.RiskLevel)
	default:
		reason = "недавняя активность пациента"
	}

	return weight + adjust, reason
}
