package telemetry

import "codeberg.org/gec/sensord/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/sensord/telemetry.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 10
)

type Config struct {
	Enabled bool
	DBPath  string
	// BatchSize is the number of buffered samples that forces a flush.
	BatchSize int
	// BatchTimeout is the periodic flush interval in seconds.
	BatchTimeout int
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if telemetry is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{
			BatchSize:    c.BatchSize,
			BatchTimeout: c.BatchTimeout,
		})
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
