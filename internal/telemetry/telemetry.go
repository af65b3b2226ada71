package telemetry

import (
	"context"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopCollector struct{}

// NewService returns a sqlite backed Collector, or a no-op one when
// telemetry is disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

// Nop returns a Collector that discards everything.
func Nop() Collector {
	return noopCollector{}
}

func (s *service) RecordReading(ctx context.Context, sample *ReadingSample) error {
	errFactory := errors.New()

	if sample == nil {
		return errFactory.New(ErrInvalidSample)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrOperationTimeout, err)
	}

	if err := s.repo.RecordReading(sample); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}
	return nil
}

func (s *service) RecordSession(ctx context.Context, sample *SessionSample) error {
	errFactory := errors.New()

	if sample == nil || (sample.Event != SessionStarted && sample.Event != SessionCompleted) {
		return errFactory.New(ErrInvalidSample)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrOperationTimeout, err)
	}

	if err := s.repo.RecordSession(sample); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}
	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (noopCollector) RecordReading(context.Context, *ReadingSample) error { return nil }
func (noopCollector) RecordSession(context.Context, *SessionSample) error { return nil }
func (noopCollector) Close() error                                        { return nil }
