package scorer

import (
	"strings"
	"testing"

	"practice-feed/internal/domain"
)

func TestScoreLowAdherenceWithTenantRule(t *testing.T) {
	s := NewSimple()
	signal := domain.FeedSignal{
		SourceType: domain.SourceLowAdherence,
		SourceID:   "p1",
		TenantID:   "t1",
		Attrs:      domain.SignalAttrs{DaysInactive: 6},
	}
	rules := map[string]domain.PriorityRule{
		"low_adherence": {
			Scope:    "t1",
			RuleKey:  "low_adherence",
			Weight:   4,
			Config:   map[string]any{"days_inactive_threshold": 2},
			IsActive: true,
		},
	}

	score, reason := s.Score(signal, rules)
	if score != 6 {
		t.Fatalf("ожидали score 6 (4 + 2), получили %v", score)
	}
	if !strings.Contains(reason, "6 дн. без записей") {
		t.Fatalf("ожидали упоминание дней без записей, получили %q", reason)
	}
}

func TestScoreLowAdherenceBelowThreshold(t *testing.T) {
	s := NewSimple()
	signal := domain.FeedSignal{
		SourceType: domain.SourceLowAdherence,
		Attrs:      domain.SignalAttrs{DaysInactive: 1},
	}

	score, _ := s.Score(signal, nil)
	if score != 4 {
		t.Fatalf("ожидали базовый вес 4 без поправки, получили %v", score)
	}
}

func TestScoreAppointmentProximity(t *testing.T) {
	s := NewSimple()
	cases := []struct {
		hours float64
		want  float64
	}{
		{hours: 1, want: 5},
		{hours: 6, want: 4},
		{hours: 30, want: 3},
	}
	for _, tc := range cases {
		signal := domain.FeedSignal{
			SourceType: domain.SourceAppointmentUpcoming,
			Attrs:      domain.SignalAttrs{HoursToEvent: tc.hours},
		}
		score, _ := s.Score(signal, nil)
		if score != tc.want {
			t.Fatalf("часы %v: ожидали %v, получили %v", tc.hours, tc.want, score)
		}
	}
}

func TestScoreLabRiskLevels(t *testing.T) {
	s := NewSimple()
	critical := domain.FeedSignal{
		SourceType: domain.SourceLabHighRisk,
		Attrs:      domain.SignalAttrs{RiskLevel: "critical"},
	}
	score, reason := s.Score(critical, nil)
	if score != 7 {
		t.Fatalf("ожидали 5 + 2 для critical, получили %v", score)
	}
	if !strings.Contains(reason, "critical") {
		t.Fatalf("ожидали уровень риска в причине, получили %q", reason)
	}
}

func TestScoreUnknownCategoryFallsBack(t *testing.T) {
	s := NewSimple()
	signal := domain.FeedSignal{SourceType: domain.SourceType("unknown_stuff")}

	score, reason := s.Score(signal, nil)
	if score != 1 {
		t.Fatalf("ожидали базовый вес generic-категории, получили %v", score)
	}
	if reason == "" {
		t.Fatalf("ожидали непустую причину")
	}
}

func TestScoreIgnoresInactiveRule(t *testing.T) {
	s := NewSimple()
	signal := domain.FeedSignal{
		SourceType: domain.SourceLowAdherence,
		Attrs:      domain.SignalAttrs{DaysInactive: 10},
	}
	rules := map[string]domain.PriorityRule{
		"low_adherence": {RuleKey: "low_adherence", Weight: 100, IsActive: false},
	}

	score, _ := s.Score(signal, rules)
	if score != 6 {
		t.Fatalf("ожидали базовый вес с поправкой (4 + 2), получили %v", score)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewSimple()
	signal := domain.FeedSignal{
		SourceType: domain.SourcePendingData,
		Attrs:      domain.SignalAttrs{DaysOverdue: 14},
	}

	first, firstReason := s.Score(signal, nil)
	for i := 0; i < 5; i++ {
		score, reason := s.Score(signal, nil)
		if score != first || reason != firstReason {
			t.Fatalf("ожидали детерминированный результат, получили %v %q", score, reason)
		}
	}
	if first != 7 {
		t.Fatalf("ожидали 5 + 2 при двойном пороге, получили %v", first)
	}
}
