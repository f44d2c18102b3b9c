package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevJWTSecret signs tokens when JWT_SECRET is unset. It is only fit for
// local runs.
const DevJWTSecret = "dev-secret"

type Config struct {
	HTTPPort string
	LogLevel string

	DBDSN      string
	DBMaxConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret string

	RecordRetention time.Duration
	StaleAfter      time.Duration
	NearExpiry      time.Duration
	BookingBuffer   time.Duration
	RatesTTL        time.Duration

	BestWeightPrice    float64
	BestWeightDuration float64
	BestWeightStops    float64

	SupplierFixtures string

	OutboxPollInterval  time.Duration
	OutboxRetentionDays int
	OutboxMaxRetries    int
}

func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDSN:      getEnv("DB_DSN", ""),
		DBMaxConns: getEnvAsInt("DB_MAX_CONNS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "booking_events"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "flight-booking-group"),

		JWTSecret: getEnv("JWT_SECRET", DevJWTSecret),

		RecordRetention: getEnvAsDuration("RECORD_RETENTION", 24*time.Hour),
		StaleAfter:      getEnvAsDuration("STALE_AFTER", 30*time.Minute),
		NearExpiry:      getEnvAsDuration("NEAR_EXPIRY", 2*time.Minute),
		BookingBuffer:   getEnvAsDuration("BOOKING_BUFFER", 5*time.Minute),
		RatesTTL:        getEnvAsDuration("RATES_TTL", 5*time.Minute),

		BestWeightPrice:    getEnvAsFloat("BEST_WEIGHT_PRICE", 0.5),
		BestWeightDuration: getEnvAsFloat("BEST_WEIGHT_DURATION", 0.3),
		BestWeightStops:    getEnvAsFloat("BEST_WEIGHT_STOPS", 0.2),

		SupplierFixtures: getEnv("SUPPLIER_FIXTURES", "fixtures/supplier.json"),

		OutboxPollInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		OutboxRetentionDays: getEnvAsInt("OUTBOX_RETENTION_DAYS", 7),
		OutboxMaxRetries:    getEnvAsInt("OUTBOX_MAX_RETRIES", 10),
	}

	return cfg
}

func (c *Config) UsesDevJWTSecret() bool {
	return c.JWTSecret == DevJWTSecret
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvAsInt(key string, def int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return def
}

func getEnvAsFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return def
}

// getEnvAsDuration accepts Go durations ("90s", "5m").
func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return def
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
