package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/app"
)

const (
	envHTTPAddr                    = "ORDERS_HTTP_ADDR"
	envMetricsAddr                 = "ORDERS_METRICS_ADDR"
	envLogLevel                    = "ORDERS_LOG_LEVEL"
	envStorageDriver               = "ORDERS_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERS_POSTGRES_AUTO_MIGRATE"
	envDefaultPageLimit            = "ORDERS_DEFAULT_PAGE_LIMIT"
	envMaxPageLimit                = "ORDERS_MAX_PAGE_LIMIT"
	envEnforceStatusTransitions    = "ORDERS_ENFORCE_STATUS_TRANSITIONS"
	envKafkaBrokers                = "ORDERS_KAFKA_BROKERS"
	envKafkaTopic                  = "ORDERS_KAFKA_TOPIC"
	envKafkaDLQTopic               = "ORDERS_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "ORDERS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERS_OUTBOX_RETRY_DELAY"
	envIdempotencyDriver           = "ORDERS_IDEMPOTENCY_DRIVER"
	envRedisAddr                   = "ORDERS_REDIS_ADDR"
	envIdempotencyTTL              = "ORDERS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignore %s=%q: %v", key, raw, err))
	}
	positive := func(v int) bool { return v > 0 }

	setString := func(key string, dst *string) {
		if v, ok := lookupTrimmed(lookup, key); ok {
			*dst = v
		}
	}
	setLowerString := func(key string, dst *string) {
		if v, ok := lookupTrimmed(lookup, key); ok {
			*dst = strings.ToLower(v)
		}
	}
	setBool := func(key string, dst *bool) {
		raw, ok := lookupTrimmed(lookup, key)
		if !ok {
			return
		}
		v, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = v
	}
	setInt := func(key string, dst *int) {
		raw, ok := lookupTrimmed(lookup, key)
		if !ok {
			return
		}
		v, err := parseInt(raw, positive, "must be > 0")
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = v
	}
	setDuration := func(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
		raw, ok := lookupTrimmed(lookup, key)
		if !ok {
			return
		}
		v, err := parseDuration(raw, validate, msg)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = v
	}
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	setLowerString(envStorageDriver, &cfg.StorageDriver)
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	setInt(envDefaultPageLimit, &cfg.DefaultPageLimit)
	setInt(envMaxPageLimit, &cfg.MaxPageLimit)
	setBool(envEnforceStatusTransitions, &cfg.EnforceStatusTransitions)

	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaTopic, &cfg.KafkaTopic)
	setString(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	setLowerString(envIdempotencyDriver, &cfg.IdempotencyDriver)
	setString(envRedisAddr, &cfg.RedisAddr)
	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	if cfg.DefaultPageLimit > cfg.MaxPageLimit {
		warnings = append(warnings, fmt.Sprintf("%s=%d exceeds %s=%d, clamped",
			envDefaultPageLimit, cfg.DefaultPageLimit, envMaxPageLimit, cfg.MaxPageLimit))
		cfg.DefaultPageLimit = cfg.MaxPageLimit
	}

	return cfg, warnings
}

func readLogLevel(lookup envLookup) string {
	if v, ok := lookupTrimmed(lookup, envLogLevel); ok {
		return strings.ToLower(v)
	}
	return "info"
}

// lookupTrimmed считает пустое значение отсутствующим.
func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	raw, ok := lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if validate != nil && !validate(v) {
		return 0, fmt.Errorf("%s", msg)
	}
	return v, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if validate != nil && !validate(v) {
		return 0, fmt.Errorf("%s", msg)
	}
	return v, nil
}
