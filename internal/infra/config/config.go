package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"America/Sao_Paulo"`
	Port   int    `envconfig:"PORT" default:"8080"`

	APIToken string `envconfig:"API_TOKEN"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Producers struct {
		BaseURL string        `envconfig:"SIGNAL_PRODUCERS_BASE_URL"`
		Timeout time.Duration `envconfig:"SIGNAL_PRODUCERS_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Rules struct {
		CacheTTL time.Duration `envconfig:"RULES_CACHE_TTL" default:"5m"`
	} `envconfig:""`

	Reconcile struct {
		Interval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	} `envconfig:""`

	Queues struct {
		Reconcile string `envconfig:"RECONCILE_QUEUE_KEY" default:"reconcile_jobs"`
	} `envconfig:""`

	Metrics struct {
		Addr string `envconfig:"METRICS_ADDR" default:":9090"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
