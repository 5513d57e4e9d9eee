package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"SERVICE_NAME", "ENV", "LOG_LEVEL", "PORT", "STATE_BACKEND",
		"NATS_URL", "REDIS_ADDR", "REDIS_DB", "FEE_BPS", "LOGIC_VERSION",
		"USD_DECIMALS", "PRICE_SYMBOLS", "HTTP_BODY_LIMIT", "PG_MAX_CONNS",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "marketplace", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 9020, cfg.Port)
	assert.Equal(t, "memory", cfg.StateBackend)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, uint32(100), cfg.FeeBps)
	assert.Equal(t, uint32(2), cfg.LogicVersion)
	assert.Equal(t, uint32(2), cfg.USDDecimals)
	assert.Equal(t, 10, cfg.PGMaxConns)
	assert.Equal(t, 1*1024*1024, cfg.HTTPBodyLimit)
	assert.Empty(t, cfg.PriceSymbols)
	assert.Empty(t, cfg.RabbitMQURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "market-test")
	t.Setenv("ENV", "prod")
	t.Setenv("PORT", "8080")
	t.Setenv("STATE_BACKEND", "pebble")
	t.Setenv("FEE_BPS", "250")
	t.Setenv("LOGIC_VERSION", "1")
	t.Setenv("PRICE_POLL_INTERVAL", "15s")
	t.Setenv("PRICE_SYMBOLS", "ETH=0x5f4ec3df9cbd43714fe2740f5e3616155c5b8419, DAI=0xaed0c38402a5d19df6e4c03f4e2dced6e29c1ee9,")

	cfg := Load()

	assert.Equal(t, "market-test", cfg.ServiceName)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "pebble", cfg.StateBackend)
	assert.Equal(t, uint32(250), cfg.FeeBps)
	assert.Equal(t, uint32(1), cfg.LogicVersion)
	assert.Equal(t, 15*time.Second, cfg.PricePollInterval)
	assert.Equal(t, []string{
		"ETH=0x5f4ec3df9cbd43714fe2740f5e3616155c5b8419",
		"DAI=0xaed0c38402a5d19df6e4c03f4e2dced6e29c1ee9",
	}, cfg.PriceSymbols)
}

func TestGetEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "forever")
	t.Setenv("X_U32", "-1")

	assert.Equal(t, 7, GetEnvInt("X_INT", 7))
	assert.True(t, GetEnvBool("X_BOOL", true))
	assert.Equal(t, time.Second, GetEnvDuration("X_DUR", time.Second))
	assert.Equal(t, uint32(3), GetEnvUint32("X_U32", 3))
}
