package signals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"practice-feed/internal/domain"
)

func TestHTTPSourceFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signals":[
			{"source_id":"patient-1","subject_id":"patient-1","title":"Нет записей 6 дней","attrs":{"days_inactive":6}},
			{"source_id":"","title":"без идентификатора"}
		]}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(Config{BaseURL: srv.URL}, domain.SourceLowAdherence, zerolog.Nop())
	signals, err := src.Fetch(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if gotPath != "/tenants/tenant-1/signals/low_adherence" {
		t.Fatalf("неверный путь запроса: %s", gotPath)
	}
	if len(signals) != 1 {
		t.Fatalf("ожидали 1 сигнал (пустой source_id отброшен), получили %d", len(signals))
	}
	sig := signals[0]
	if sig.TenantID != "tenant-1" || sig.SourceType != domain.SourceLowAdherence {
		t.Fatalf("идентичность не проставлена: %+v", sig.Identity())
	}
	if sig.Attrs.DaysInactive != 6 {
		t.Fatalf("атрибуты потеряны: %+v", sig.Attrs)
	}
}

func TestHTTPSourceFetchDegradesOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(Config{BaseURL: srv.URL}, domain.SourcePendingData, zerolog.Nop())
	signals, err := src.Fetch(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("деградация источника не должна возвращать ошибку: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("ожидали пустой список, получили %d сигналов", len(signals))
	}
}
