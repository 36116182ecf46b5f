package app

import (
	"time"

	"github.com/vladislavdragonenkov/orderdesk/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// IdempotencyDriverStorage держит ключи идемпотентности в основном хранилище.
	IdempotencyDriverStorage = "storage"
	// IdempotencyDriverRedis держит ключи идемпотентности в Redis с нативным TTL.
	IdempotencyDriverRedis = "redis"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresMaxConns ограничивает пул соединений к PostgreSQL.
	PostgresMaxConns    int
	SeedCatalog         bool

	// DefaultUserID подставляется в заказ, если запрос пришёл без X-User-ID.
	DefaultUserID string

	IdempotencyDriver           string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// KafkaBrokers: список брокеров через запятую. Пустое значение отключает outbox worker.
	KafkaBrokers       string
	KafkaTopic         string
	KafkaDLQTopic      string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxStaleAfter: возраст самого старого pending-события, после которого /healthz отдаёт degraded.
	OutboxStaleAfter   time.Duration

	OTLPEndpoint string
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		SeedCatalog:                 true,
		DefaultUserID:               "anonymous",
		IdempotencyDriver:           IdempotencyDriverStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		KafkaTopic:                  kafka.TopicOrderEvents,
		KafkaDLQTopic:               kafka.TopicDeadLetterQueue,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxStaleAfter:            5 * time.Minute,
	}
}
