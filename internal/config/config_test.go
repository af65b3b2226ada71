package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/gec/sensord/internal/config"
	"codeberg.org/gec/sensord/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sensord.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "debug"

[serial]
port = "/dev/ttyUSB3"
baud_rate = 19200
read_timeout = "250ms"
keepalive = false

[session]
co_start_threshold = "3.5"

[rabbitmq]
host = "broker.local"
port = 5673
vhost = "/gec"
username = "sensor"
password = "secret"
pool_size = 8
register_queue = "register"
complete_queue = "complete"
publish_timeout = "2s"

[telemetry]
enabled = true
database = "/path/to/telemetry.db"
batch_size = 10
`)

	// Set environment variable to point to the test config file
	t.Setenv("SENSORD_CONFIG", configPath)

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.False(t, cfg.Serial.KeepAlive)
	assert.Equal(t, "3.5", cfg.Session.COStartThreshold.Text('f'))
	assert.Equal(t, "broker.local", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "/gec", cfg.RabbitMQ.VHost)
	assert.Equal(t, "sensor", cfg.RabbitMQ.Username)
	assert.Equal(t, "secret", cfg.RabbitMQ.Password)
	assert.Equal(t, 8, cfg.RabbitMQ.PoolSize)
	assert.Equal(t, "register", cfg.RabbitMQ.RegisterQueue)
	assert.Equal(t, "complete", cfg.RabbitMQ.CompleteQueue)
	assert.Equal(t, 2*time.Second, cfg.RabbitMQ.PublishTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/path/to/telemetry.db", cfg.Telemetry.Database)
	assert.Equal(t, 10, cfg.Telemetry.BatchSize)
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv("SENSORD_CONFIG", "")

	cfg, err := config.Load(config.WithArgs(nil), config.WithConfigFile(writeConfig(t, "")))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Empty(t, cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.True(t, cfg.Serial.KeepAlive)
	assert.Equal(t, time.Second, cfg.Serial.KeepAliveDelay)
	assert.Equal(t, "4.0", cfg.Session.COStartThreshold.Text('f'))
	assert.Equal(t, "localhost", cfg.RabbitMQ.Host)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "/", cfg.RabbitMQ.VHost)
	assert.Equal(t, 4, cfg.RabbitMQ.PoolSize)
	assert.Equal(t, "register-new-gas-data", cfg.RabbitMQ.RegisterQueue)
	assert.Equal(t, "complete-gas-data-measuring", cfg.RabbitMQ.CompleteQueue)
	assert.Equal(t, 10*time.Second, cfg.RabbitMQ.DialTimeout)
	assert.Equal(t, 3, cfg.RabbitMQ.DialRetries)
	assert.Equal(t, 5*time.Second, cfg.RabbitMQ.PublishTimeout)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 50, cfg.Telemetry.BatchSize)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)

	t.Setenv("SENSORD_CONFIG", configPath)

	_, err := config.Load(config.WithArgs(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(
		config.WithArgs(nil),
		config.WithConfigFile(filepath.Join(t.TempDir(), "absent.toml")),
	)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("SENSORD_CONFIG", writeConfig(t, `
log_level = "invalid"
`))

	_, err := config.Load(config.WithArgs(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")

	var verr config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "log_level", verr.Field())
	assert.Equal(t, config.LogLevel("invalid"), verr.Value())
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{"negative threshold", "[session]\nco_start_threshold = \"-1\"", errors.ErrInvalidThreshold},
		{"non-numeric threshold", "[session]\nco_start_threshold = \"high\"", errors.ErrInvalidThreshold},
		{"infinite threshold", "[session]\nco_start_threshold = \"Inf\"", errors.ErrInvalidThreshold},
		{"zero pool size", "[rabbitmq]\npool_size = 0", errors.ErrInvalidPoolSize},
		{"empty register queue", "[rabbitmq]\nregister_queue = \"\"", errors.ErrMissingQueueName},
		{"zero baud rate", "[serial]\nbaud_rate = 0", errors.ErrInvalidBaudRate},
		{"telemetry without database", "[telemetry]\nenabled = true\ndatabase = \"\"", errors.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(config.WithArgs(nil), config.WithConfigFile(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	t.Setenv("SENSORD_CONFIG", writeConfig(t, `
log_level = "error"

[serial]
port = "/dev/ttyUSB0"
`))
	t.Setenv("SENSORD_RABBITMQ_HOST", "env-broker")
	t.Setenv("SENSORD_LOG_LEVEL", "warning")

	cfg, err := config.Load(config.WithArgs([]string{"--log-level", "debug", "--port", "COM4", "--threshold", "2.5"}))
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, "COM4", cfg.Serial.Port)
	assert.Equal(t, "2.5", cfg.Session.COStartThreshold.Text('f'))
	assert.Equal(t, "env-broker", cfg.RabbitMQ.Host)
}

func TestConfigFlagAndEnvPrefix(t *testing.T) {
	path := writeConfig(t, `
[rabbitmq]
client_name = "bench"
`)
	t.Setenv("GASBENCH_RABBITMQ_POOL_SIZE", "2")

	cfg, err := config.Load(
		config.WithArgs([]string{"--config", path}),
		config.WithEnvPrefix("GASBENCH"),
	)
	require.NoError(t, err)

	assert.Equal(t, "bench", cfg.RabbitMQ.ClientName)
	assert.Equal(t, 2, cfg.RabbitMQ.PoolSize)
}

func TestUnknownFlag(t *testing.T) {
	_, err := config.Load(config.WithArgs([]string{"--interval", "5"}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrBindFlags))
}
