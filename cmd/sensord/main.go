package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/gec/sensord/internal/config"
	"codeberg.org/gec/sensord/internal/device"
	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"codeberg.org/gec/sensord/internal/pid"
	"codeberg.org/gec/sensord/internal/publisher"
	"codeberg.org/gec/sensord/internal/sensor"
	"codeberg.org/gec/sensord/internal/session"
	"codeberg.org/gec/sensord/internal/telemetry"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel.String(), logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := run(); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.FatalWithCode(coded).Msg("sensord stopped")
		}
		logger.Fatal().Err(err).Msg("sensord stopped")
	}
	logger.Info().Msg("Exiting...")
}

func run() error {
	errFactory := errors.New()

	pidFile := pid.Default()
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove pid file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	collector, err := telemetry.NewService(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		DBPath:       cfg.Telemetry.Database,
		BatchSize:    cfg.Telemetry.BatchSize,
		BatchTimeout: cfg.Telemetry.BatchTimeout,
	}, logger.New("telemetry"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitTelemetry, err)
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry")
		}
	}()

	pub, err := newPublisher()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close publisher")
		}
	}()

	if err := pub.Initialize(ctx); err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	port, err := openPort()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := port.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close serial port")
		}
	}()

	machine := session.NewMachine(&cfg.Session.COStartThreshold,
		session.WithLogger(logger.New("session")))

	opts := []sensor.Option{
		sensor.WithTelemetry(collector),
		sensor.WithLogger(logger.New("sensor")),
		sensor.WithPublishTimeout(cfg.RabbitMQ.PublishTimeout),
	}
	if cfg.Serial.KeepAlive {
		keepAlive := device.NewKeepAlive(port, cfg.Serial.KeepAliveDelay, logger.New("keepalive"))
		opts = append(opts, sensor.WithKeepAlive(keepAlive))
	}

	worker := sensor.New(port, machine, pub, opts...)

	logger.Info().
		Str("port", port.Name()).
		Str("broker", cfg.RabbitMQ.Host).
		Str("threshold", cfg.Session.COStartThreshold.Text('f')).
		Msg("sensord started")

	err = worker.Run(ctx)

	stats := worker.Stats()
	logger.Info().
		Uint64("frames", stats.Frames).
		Uint64("decoded", stats.Decoded).
		Uint64("rejected", stats.Rejected).
		Uint64("sessions_started", stats.Started).
		Uint64("sessions_completed", stats.Completed).
		Uint64("publish_failures", stats.PublishFailures).
		Msg("Sensor worker summary")

	if err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}
	return nil
}

func newPublisher() (*publisher.Publisher, error) {
	rmq := cfg.RabbitMQ

	dialer := publisher.WithRetry(publisher.NewAMQPDialer(publisher.DialConfig{
		Host:        rmq.Host,
		Port:        rmq.Port,
		VHost:       rmq.VHost,
		Username:    rmq.Username,
		Password:    rmq.Password,
		ClientName:  rmq.ClientName,
		DialTimeout: rmq.DialTimeout,
		Heartbeat:   rmq.Heartbeat,
	}), rmq.DialRetries, rmq.DialRetryDelay, logger.New("amqp"))

	return publisher.New(dialer, publisher.Config{
		PoolSize: rmq.PoolSize,
		Routes:   publisher.NewRoutes(rmq.RegisterQueue, rmq.CompleteQueue),
		AppID:    rmq.ClientName,
	}, publisher.WithLogger(logger.New("publisher")))
}

func openPort() (*device.Device, error) {
	name := cfg.Serial.Port
	if name == "" {
		found, err := device.FindPort()
		if err != nil {
			return nil, err
		}
		logger.Info().Str("port", found).Msg("Serial port auto-detected")
		name = found
	}

	return device.Open(device.Config{
		Name:        name,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
