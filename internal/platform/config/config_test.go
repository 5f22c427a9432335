package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("SOS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.LedgerTimeout)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "sos.oracle.requests", cfg.Kafka.OracleTopic)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SOS_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("SOS_LEDGER_TIMEOUT", "250ms")
	t.Setenv("REDIS_POOL_SIZE", "42")
	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.LedgerTimeout)
	assert.Equal(t, 42, cfg.Redis.PoolSize)
}
