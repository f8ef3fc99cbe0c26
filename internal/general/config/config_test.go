package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
database:
  user: transit
  password: secret
  database: transit_fleet
rabbitmq:
  user: guest
  password: guest
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, 8080, cfg.WebSocket.Port)
	assert.Equal(t, 30, cfg.Realtime.PingIntervalSeconds)
	assert.Equal(t, 2, cfg.Realtime.MissedPongThreshold)
	assert.Equal(t, 5, cfg.Realtime.WriteTimeoutSeconds)
	assert.Equal(t, 0, cfg.Realtime.MinReportIntervalSeconds)
	assert.Equal(t, int64(1<<20), cfg.Realtime.ReadLimitBytes)
	assert.Empty(t, cfg.JWT.SecretKey)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
database:
  host: db.internal
  port: 5433
  user: transit
  password: secret
  database: transit_fleet
rabbitmq:
  host: mq.internal
  port: 5673
  user: transit
  password: secret
websocket:
  port: 9090
realtime:
  ping_interval_seconds: 15
  missed_pong_threshold: 3
  write_timeout_seconds: 2
  min_report_interval_seconds: 5
  read_limit_bytes: 65536
jwt:
  secret_key: shhh
`))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 9090, cfg.WebSocket.Port)
	assert.Equal(t, "shhh", cfg.JWT.SecretKey)

	assert.Equal(t, 15*time.Second, cfg.PingInterval())
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout())
	assert.Equal(t, 5*time.Second, cfg.MinReportInterval())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, minimalConfig+`
metrics:
  port: 9100
`))
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
database:
  user: transit
rabbitmq:
  user: guest
  password: guest
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password is required")
	assert.Contains(t, err.Error(), "database.database is required")
}

func TestValidateRejectsBadRanges(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, minimalConfig+`
websocket:
  port: 70000
realtime:
  min_report_interval_seconds: -1
  read_limit_bytes: 100
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket.port")
	assert.Contains(t, err.Error(), "min_report_interval_seconds")
	assert.Contains(t, err.Error(), "read_limit_bytes")
}
