package config

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("CONSUMER_MAX_ATTEMPTS", "")

	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "INR", cfg.DefaultCurrency)
	assert.Equal(t, 5, cfg.ConsumerMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.ConsumerInitialBackoff)
	assert.Empty(t, cfg.KafkaBrokerList())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("CATALOG_SERVICE_URL", "http://catalog:8081/")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("CONSUMER_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("CATALOG_TIMEOUT_MS", "900")

	cfg := LoadConfig()

	assert.Equal(t, "http://catalog:8081", cfg.CatalogServiceURL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokerList())
	assert.Equal(t, 5, cfg.ConsumerMaxAttempts)
	assert.Equal(t, 900*time.Millisecond, cfg.CatalogTimeout)
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "3306", DBName: "storefront"}
	assert.Equal(t, "u:p@tcp(h:3306)/storefront?parseTime=true&charset=utf8mb4&loc=UTC&time_zone=%27%2B00%3A00%27", cfg.GetDSN())
}

func TestGetDSN_PinsSessionToUTC(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "3306", DBName: "storefront"}

	parsed, err := mysql.ParseDSN(cfg.GetDSN())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Loc)
	assert.Equal(t, "'+00:00'", parsed.Params["time_zone"])
	assert.True(t, parsed.ParseTime)
}
