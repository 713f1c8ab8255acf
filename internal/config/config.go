package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，全部通过环境变量注入。
type AppConfig struct {
	Env      string
	HTTPAddr string

	// DBDriver 取值 sqlite / postgres，DBDSN 为对应驱动的连接串。
	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// 购物车占位时长与结算锁时长
	ReservationTTL  time.Duration
	CheckoutLockTTL time.Duration
	// 占位计数漂移校正周期，0 表示关闭
	ReconcileInterval time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration

	// Kafka outbox 投递
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
	OutboxPoll   time.Duration
	OutboxBatch  int
}

// IsDev 表示是否运行在开发模式。
func (c AppConfig) IsDev() bool { return c.Env == "development" }

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		Env:           getEnv("ENV", "production"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":3000"),
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:         getEnv("DB_DSN", "stock_reservation.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:  splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "stock-reservation-orders"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.ReservationTTL, err = positiveSeconds("CART_RESERVATION_TTL", 600); err != nil {
		return AppConfig{}, err
	}
	if cfg.CheckoutLockTTL, err = positiveSeconds("CHECKOUT_LOCK_TTL", 30); err != nil {
		return AppConfig{}, err
	}

	reconcileSec, err := getEnvInt("RECONCILE_INTERVAL_SEC", 60)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RECONCILE_INTERVAL_SEC: %w", err)
	}
	if reconcileSec < 0 {
		return AppConfig{}, fmt.Errorf("RECONCILE_INTERVAL_SEC must be >= 0")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSec) * time.Second

	if cfg.RateLimitMax, err = getEnvInt("RATE_LIMIT_MAX", 100); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RATE_LIMIT_MAX: %w", err)
	}
	if cfg.RateLimitMax <= 0 {
		return AppConfig{}, fmt.Errorf("RATE_LIMIT_MAX must be > 0")
	}
	if cfg.RateLimitWindow, err = positiveSeconds("RATE_LIMIT_WINDOW", 900); err != nil {
		return AppConfig{}, err
	}

	cfg.KafkaEnabled = getEnv("KAFKA_ENABLED", "false") == "true"

	pollMS, err := getEnvInt("OUTBOX_POLL_MS", 500)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid OUTBOX_POLL_MS: %w", err)
	}
	if pollMS <= 0 {
		return AppConfig{}, fmt.Errorf("OUTBOX_POLL_MS must be > 0")
	}
	cfg.OutboxPoll = time.Duration(pollMS) * time.Millisecond

	if cfg.OutboxBatch, err = getEnvInt("OUTBOX_BATCH", 100); err != nil {
		return AppConfig{}, fmt.Errorf("invalid OUTBOX_BATCH: %w", err)
	}
	if cfg.OutboxBatch <= 0 {
		return AppConfig{}, fmt.Errorf("OUTBOX_BATCH must be > 0")
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
	}

	return cfg, nil
}

// positiveSeconds 读取秒数配置并转换为 Duration，要求 > 0。
func positiveSeconds(key string, fallback int) (time.Duration, error) {
	sec, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if sec <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(sec) * time.Second, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
