package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderdesk/internal/app"
	"github.com/vladislavdragonenkov/orderdesk/internal/version"
)

const (
	envHTTPAddr                    = "ORDERDESK_HTTP_ADDR"
	envMetricsAddr                 = "ORDERDESK_METRICS_ADDR"
	envStorageDriver               = "ORDERDESK_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERDESK_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERDESK_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "ORDERDESK_POSTGRES_MAX_CONNS"
	envSeedCatalog                 = "ORDERDESK_SEED_CATALOG"
	envDefaultUser                 = "ORDERDESK_DEFAULT_USER"
	envIdempotencyDriver           = "ORDERDESK_IDEMPOTENCY_DRIVER"
	envRedisAddr                   = "ORDERDESK_REDIS_ADDR"
	envIdempotencyTTL              = "ORDERDESK_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ORDERDESK_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERDESK_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaTopic                  = "ORDERDESK_KAFKA_TOPIC"
	envKafkaDLQTopic               = "ORDERDESK_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "ORDERDESK_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERDESK_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERDESK_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERDESK_OUTBOX_RETRY_DELAY"
	envOutboxStaleAfter            = "ORDERDESK_OUTBOX_STALE_AFTER"
	envOTLPEndpoint                = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envLogLevel                    = "ORDERDESK_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", envLogLevel, raw, err)
	}
	log.SetLevel(level)
	return nil
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не валят запуск: остаётся значение по умолчанию, а
// причина возвращается в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns)
	boolean(envSeedCatalog, &cfg.SeedCatalog)
	str(envDefaultUser, &cfg.DefaultUserID)

	str(envIdempotencyDriver, &cfg.IdempotencyDriver)
	cfg.IdempotencyDriver = strings.ToLower(cfg.IdempotencyDriver)
	str(envRedisAddr, &cfg.RedisAddr)
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")
	duration(envOutboxStaleAfter, &cfg.OutboxStaleAfter, positive, "must be > 0")

	str(envOTLPEndpoint, &cfg.OTLPEndpoint)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("invalid value %d: %s", value, msg)
	}
	return value, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("invalid duration %s: %s", value, msg)
	}
	return value, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	if err := setupLogger(os.LookupEnv); err != nil {
		log.WithError(err).Warn("keeping default log level")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warnf("ignoring invalid setting, default kept: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Get().Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"idempotency":    cfg.IdempotencyDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
	}).Info("запускаем orderdesk API")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("orderdesk API остановлен")
}
