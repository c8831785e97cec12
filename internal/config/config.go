package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl     string
	Port      string
	JWTSecret string

	LogLevel  string
	LogPretty bool

	RedisAddress string
	RabbitMQURL  string
	// NotificationQueue selects the email queue backend: "database" or "rabbitmq".
	NotificationQueue string
	EmailExchange     string
	EmailRoutingKey   string

	MongoURI      string
	MongoDatabase string

	Audit AuditConfig
}

type AuditConfig struct {
	PolicyFile              string
	Workers                 int
	TopN                    int
	AcceptableDiscrepancies int
	SuppressionWindow       time.Duration
	LockTTL                 time.Duration

	IntegrityCheckInterval        time.Duration
	BalanceReconciliationInterval time.Duration
}

func LoadConfig() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println(".env file not found, using environment and defaults")
	}

	return Config{
		DBUrl:     os.Getenv("DB_URL"),
		Port:      getEnv("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", false),

		RedisAddress:      os.Getenv("REDIS_ADDRESS"),
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		NotificationQueue: strings.ToLower(getEnv("NOTIFICATION_QUEUE", "database")),
		EmailExchange:     getEnv("EMAIL_EXCHANGE", "notifications"),
		EmailRoutingKey:   getEnv("EMAIL_ROUTING_KEY", "email.queue"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DATABASE", "ledger_audit"),

		Audit: AuditConfig{
			PolicyFile:              os.Getenv("DRIFT_POLICY_FILE"),
			Workers:                 getInt("AUDIT_WORKERS", 1),
			TopN:                    getInt("AUDIT_TOP_N", 20),
			AcceptableDiscrepancies: getInt("AUDIT_ACCEPTABLE_DISCREPANCIES", 5),
			SuppressionWindow:       getDuration("ALERT_SUPPRESSION_WINDOW", 0),
			LockTTL:                 getDuration("AUDIT_LOCK_TTL", time.Minute),

			IntegrityCheckInterval:        getDuration("INTEGRITY_CHECK_INTERVAL", 24*time.Hour),
			BalanceReconciliationInterval: getDuration("BALANCE_RECONCILIATION_INTERVAL", 7*24*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
