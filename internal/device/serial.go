package device

import (
	"sync"
	"time"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 500 * time.Millisecond
)

// Config describes the serial line. Framing is fixed at 8N1 without
// handshake.
type Config struct {
	Name        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Device is an open serial port. Writes are serialized so the keep-alive may
// write from its own goroutine while the worker reads.
type Device struct {
	name string
	port serial.Port

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// Open opens and configures the port named in cfg.
func Open(cfg Config) (*Device, error) {
	errFactory := errors.New()

	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenFailed, err).WithMessage("failed to open " + cfg.Name)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, errFactory.Wrap(ErrConfigureFailed, err)
	}

	logger.Info().
		Str("port", cfg.Name).
		Int("baud_rate", cfg.BaudRate).
		Dur("read_timeout", cfg.ReadTimeout).
		Msg("Serial port opened")

	return &Device{name: cfg.Name, port: port}, nil
}

// Name returns the port path.
func (d *Device) Name() string {
	return d.name
}

func (d *Device) Read(p []byte) (int, error) {
	n, err := d.port.Read(p)
	if err != nil {
		return n, errors.New().Wrap(ErrReadFailed, err)
	}
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	n, err := d.port.Write(p)
	if err != nil {
		return n, errors.New().Wrap(ErrWriteFailed, err)
	}
	return n, nil
}

// Close closes the port once; later calls are no-ops.
func (d *Device) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.port.Close(); err != nil {
		return errors.New().Wrap(ErrCloseFailed, err)
	}

	logger.Info().Str("port", d.name).Msg("Serial port closed")
	return nil
}
