package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	AdminToken    string
	// Deployer owns the registry and receives the admin roles of the
	// development stack built at startup.
	Deployer      string
	LedgerTimeout time.Duration
	SeedStack     bool

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Oracle   OracleConfig
}

// PostgresConfig configures durable stores. An empty DSN keeps everything in memory.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// RedisConfig configures the registry cache. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures oracle dispatch and the audit outbox. No brokers
// means in-process dispatch.
type KafkaConfig struct {
	Brokers          []string
	OracleTopic      string
	FulfillmentTopic string
	AuditTopic       string
	ConsumerGroup    string
}

// OracleConfig seeds the oracle consumer.
type OracleConfig struct {
	Address string
	JobID   string
	Fee     int64
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          getEnv("SOS_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     getEnv("JWT_ISSUER", "sos"),
		JWTAudience:   getEnv("JWT_AUDIENCE", "sos-api"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		Deployer:      getEnv("SOS_DEPLOYER", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		LedgerTimeout: getDuration("SOS_LEDGER_TIMEOUT", 5*time.Second),
		SeedStack:     os.Getenv("SOS_SEED_STACK") == "true",
		Postgres: PostgresConfig{
			DSN:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getInt("DATABASE_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:          splitList(os.Getenv("KAFKA_BROKERS")),
			OracleTopic:      getEnv("KAFKA_ORACLE_TOPIC", "sos.oracle.requests"),
			FulfillmentTopic: getEnv("KAFKA_FULFILLMENT_TOPIC", "sos.oracle.fulfillments"),
			AuditTopic:       getEnv("KAFKA_AUDIT_TOPIC", "sos.audit"),
			ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "sos"),
		},
		Oracle: OracleConfig{
			Address: os.Getenv("ORACLE_ADDRESS"),
			JobID:   os.Getenv("ORACLE_JOB_ID"),
			Fee:     int64(getInt("ORACLE_FEE", 0)),
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
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
