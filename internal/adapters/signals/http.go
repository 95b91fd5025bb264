// Package signals содержит клиентов внешних производителей сигналов ленты.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"practice-feed/internal/domain"
	"practice-feed/internal/infra/metrics"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPSource получает сигналы одной категории у внешнего производителя.
// Недоступность производителя не роняет проход реконсиляции: источник
// логирует ошибку и возвращает пустой список.
type HTTPSource struct {
	cfg        Config
	category   domain.SourceType
	httpClient *http.Client
	log        zerolog.Logger
}

var _ domain.SignalSource = (*HTTPSource)(nil)

// NewHTTPSource создаёт клиента для одной категории сигналов.
func NewHTTPSource(cfg Config, category domain.SourceType, logger zerolog.Logger) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		cfg:        cfg,
		category:   category,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// SetHTTPClient подменяет транспорт (для тестов).
func (s *HTTPSource) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		s.httpClient = httpClient
	}
}

// Category возвращает категорию источника.
func (s *HTTPSource) Category() domain.SourceType {
	return s.category
}

// Fetch запрашивает сигналы арендатора. Ошибки транспорта и декодирования
// считаются деградацией источника, не ошибкой прохода.
func (s *HTTPSource) Fetch(ctx context.Context, tenantID string) ([]domain.FeedSignal, error) {
	signals, err := s.fetch(ctx, tenantID)
	if err != nil {
		metrics.IncSignalFetchError(string(s.category))
		s.log.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("category", string(s.category)).
			Msg("источник сигналов недоступен")
		return nil, nil
	}
	return signals, nil
}

func (s *HTTPSource) fetch(ctx context.Context, tenantID string) ([]domain.FeedSignal, error) {
	baseURL := strings.TrimRight(s.cfg.BaseURL, "/")
	endpoint := fmt.Sprintf("%s/tenants/%s/signals/%s",
		baseURL, url.PathEscape(tenantID), url.PathEscape(string(s.category)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	metrics.ObserveNetworkRequest("signal_producer", "fetch", string(s.category), start, err)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("producer %s failed: status %d: %s",
			s.category, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Signals []domain.FeedSignal `json:"signals"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]domain.FeedSignal, 0, len(parsed.Signals))
	for _, sig := range parsed.Signals {
		// Производитель знает только свой источник: категорию и арендатора
		// проставляем сами, чужие отбрасываем.
		sig.SourceType = s.category
		sig.TenantID = tenantID
		if sig.SourceID == "" {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}
