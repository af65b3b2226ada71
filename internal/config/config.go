package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/gec/sensord/internal/errors"
	"github.com/cockroachdb/apd/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = LogLevelInfo
	DefaultEnvPrefix = "SENSORD"
	DefaultThreshold = "4.0"
)

type Config struct {
	LogLevel  LogLevel
	Serial    SerialConfig
	Session   SessionConfig
	RabbitMQ  RabbitMQConfig
	Telemetry TelemetryConfig
}

type SerialConfig struct {
	// Port is empty when the port should be auto-detected.
	Port           string
	BaudRate       int
	ReadTimeout    time.Duration
	KeepAlive      bool
	KeepAliveDelay time.Duration
}

type SessionConfig struct {
	COStartThreshold apd.Decimal
}

type RabbitMQConfig struct {
	Host           string
	Port           int
	VHost          string
	Username       string
	Password       string
	ClientName     string
	PoolSize       int
	RegisterQueue  string
	CompleteQueue  string
	DialTimeout    time.Duration
	DialRetries    int
	DialRetryDelay time.Duration
	PublishTimeout time.Duration
	Heartbeat      time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	Database     string
	BatchSize    int
	BatchTimeout int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.read_timeout", "500ms")
	v.SetDefault("serial.keepalive", true)
	v.SetDefault("serial.keepalive_delay", "1s")

	v.SetDefault("session.co_start_threshold", DefaultThreshold)

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.username", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.client_name", "sensord")
	v.SetDefault("rabbitmq.pool_size", 4)
	v.SetDefault("rabbitmq.register_queue", "register-new-gas-data")
	v.SetDefault("rabbitmq.complete_queue", "complete-gas-data-measuring")
	v.SetDefault("rabbitmq.dial_timeout", "10s")
	v.SetDefault("rabbitmq.dial_retries", 3)
	v.SetDefault("rabbitmq.dial_retry_delay", "2s")
	v.SetDefault("rabbitmq.publish_timeout", "5s")
	v.SetDefault("rabbitmq.heartbeat", "10s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.database", "/var/lib/sensord/telemetry.db")
	v.SetDefault("telemetry.batch_size", 50)
	v.SetDefault("telemetry.batch_timeout", 10)
}

// Load reads configuration from, in increasing precedence: defaults, the
// TOML config file, SENSORD_* environment variables and command line flags.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		envPrefix: DefaultEnvPrefix,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("sensord", pflag.ContinueOnError)
	flags.String("config", "", "Path to the TOML configuration file")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.String("port", "", "Serial port of the gas analyzer (auto-detected when empty)")
	flags.String("threshold", "", "CO level (%) that opens a measuring session")

	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for key, flag := range map[string]string{
		"log_level":                  "log-level",
		"serial.port":                "port",
		"session.co_start_threshold": "threshold",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, configPath(o, flags)); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configPath picks the explicit config file, if any: option, then flag,
// then the <PREFIX>_CONFIG environment variable.
func configPath(o options, flags *pflag.FlagSet) string {
	if o.configPath != "" {
		return o.configPath
	}
	if path, _ := flags.GetString("config"); path != "" {
		return path
	}
	return os.Getenv(o.envPrefix + "_CONFIG")
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sensord")
		v.AddConfigPath("/etc/sensord")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{
		LogLevel: LogLevel(strings.ToLower(v.GetString("log_level"))),
		Serial: SerialConfig{
			Port:           v.GetString("serial.port"),
			BaudRate:       v.GetInt("serial.baud_rate"),
			ReadTimeout:    v.GetDuration("serial.read_timeout"),
			KeepAlive:      v.GetBool("serial.keepalive"),
			KeepAliveDelay: v.GetDuration("serial.keepalive_delay"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:           v.GetString("rabbitmq.host"),
			Port:           v.GetInt("rabbitmq.port"),
			VHost:          v.GetString("rabbitmq.vhost"),
			Username:       v.GetString("rabbitmq.username"),
			Password:       v.GetString("rabbitmq.password"),
			ClientName:     v.GetString("rabbitmq.client_name"),
			PoolSize:       v.GetInt("rabbitmq.pool_size"),
			RegisterQueue:  v.GetString("rabbitmq.register_queue"),
			CompleteQueue:  v.GetString("rabbitmq.complete_queue"),
			DialTimeout:    v.GetDuration("rabbitmq.dial_timeout"),
			DialRetries:    v.GetInt("rabbitmq.dial_retries"),
			DialRetryDelay: v.GetDuration("rabbitmq.dial_retry_delay"),
			PublishTimeout: v.GetDuration("rabbitmq.publish_timeout"),
			Heartbeat:      v.GetDuration("rabbitmq.heartbeat"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("telemetry.enabled"),
			Database:     v.GetString("telemetry.database"),
			BatchSize:    v.GetInt("telemetry.batch_size"),
			BatchTimeout: v.GetInt("telemetry.batch_timeout"),
		},
	}

	raw := strings.TrimSpace(v.GetString("session.co_start_threshold"))
	threshold, _, err := apd.NewFromString(raw)
	if err != nil || threshold.Form != apd.Finite || threshold.Negative {
		return nil, errFactory.Wrap(errors.ErrInvalidThreshold, &validationError{
			code:   string(errors.ErrInvalidThreshold),
			field:  "session.co_start_threshold",
			value:  raw,
			reason: "must be a non-negative decimal",
		})
	}
	cfg.Session.COStartThreshold.Set(threshold)

	return cfg, nil
}

// Validate checks every setting and returns the first violation.
func (c *Config) Validate() error {
	checks := []struct {
		ok     bool
		code   errors.ErrorCode
		field  string
		value  interface{}
		reason string
	}{
		{c.LogLevel.IsValid(), errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "must be debug, info, warning or error"},
		{c.Serial.BaudRate > 0, errors.ErrInvalidBaudRate, "serial.baud_rate", c.Serial.BaudRate, "must be positive"},
		{c.Serial.ReadTimeout > 0, errors.ErrInvalidConfig, "serial.read_timeout", c.Serial.ReadTimeout, "must be positive"},
		{!c.Serial.KeepAlive || c.Serial.KeepAliveDelay > 0, errors.ErrInvalidConfig, "serial.keepalive_delay", c.Serial.KeepAliveDelay, "must be positive"},
		{c.RabbitMQ.Host != "", errors.ErrMissingConfig, "rabbitmq.host", c.RabbitMQ.Host, "must not be empty"},
		{c.RabbitMQ.Port > 0 && c.RabbitMQ.Port <= 65535, errors.ErrInvalidConfig, "rabbitmq.port", c.RabbitMQ.Port, "must be a TCP port"},
		{c.RabbitMQ.PoolSize > 0, errors.ErrInvalidPoolSize, "rabbitmq.pool_size", c.RabbitMQ.PoolSize, "must be positive"},
		{c.RabbitMQ.RegisterQueue != "", errors.ErrMissingQueueName, "rabbitmq.register_queue", c.RabbitMQ.RegisterQueue, "must not be empty"},
		{c.RabbitMQ.CompleteQueue != "", errors.ErrMissingQueueName, "rabbitmq.complete_queue", c.RabbitMQ.CompleteQueue, "must not be empty"},
		{c.RabbitMQ.DialTimeout > 0, errors.ErrInvalidConfig, "rabbitmq.dial_timeout", c.RabbitMQ.DialTimeout, "must be positive"},
		{c.RabbitMQ.DialRetries > 0, errors.ErrInvalidConfig, "rabbitmq.dial_retries", c.RabbitMQ.DialRetries, "must be positive"},
		{c.RabbitMQ.DialRetryDelay >= 0, errors.ErrInvalidConfig, "rabbitmq.dial_retry_delay", c.RabbitMQ.DialRetryDelay, "must not be negative"},
		{c.RabbitMQ.PublishTimeout > 0, errors.ErrInvalidConfig, "rabbitmq.publish_timeout", c.RabbitMQ.PublishTimeout, "must be positive"},
		{c.RabbitMQ.Heartbeat >= 0, errors.ErrInvalidConfig, "rabbitmq.heartbeat", c.RabbitMQ.Heartbeat, "must not be negative"},
		{!c.Telemetry.Enabled || c.Telemetry.Database != "", errors.ErrMissingConfig, "telemetry.database", c.Telemetry.Database, "required when telemetry is enabled"},
		{c.Telemetry.BatchSize >= 0 && c.Telemetry.BatchTimeout >= 0, errors.ErrInvalidConfig, "telemetry.batch_size", c.Telemetry.BatchSize, "batching must not be negative"},
	}

	for _, check := range checks {
		if !check.ok {
			return errors.New().Wrap(check.code, &validationError{
				code:   string(check.code),
				field:  check.field,
				value:  check.value,
				reason: check.reason,
			})
		}
	}

	return nil
}
