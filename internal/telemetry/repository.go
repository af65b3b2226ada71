package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	readings      []*ReadingSample
	sessions      []*SessionSample
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		readings:      make([]*ReadingSample, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) RecordReading(sample *ReadingSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrCollectorDone)
	}

	r.readings = append(r.readings, sample)
	return r.maybeFlush()
}

// RecordSession flushes at once so session outcomes survive a crash.
func (r *repository) RecordSession(sample *SessionSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrCollectorDone)
	}

	r.sessions = append(r.sessions, sample)
	return r.flush()
}

func (r *repository) maybeFlush() error {
	if len(r.readings)+len(r.sessions) >= r.cfg.BatchSize {
		return r.flush()
	}
	return nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.mu.Lock()
	if err := r.flush(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to flush telemetry on close")
	}
	r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Telemetry repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic telemetry flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes both buffers in one transaction. The caller holds r.mu.
// Buffers are kept on failure and retried with the next flush.
func (r *repository) flush() error {
	if len(r.readings) == 0 && len(r.sessions) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := r.insertReadings(tx); err != nil {
		r.rollback(tx)
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	if err := r.insertSessions(tx); err != nil {
		r.rollback(tx)
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Int("readings", len(r.readings)).
		Int("sessions", len(r.sessions)).
		Msg("Flushed telemetry to database")

	r.readings = r.readings[:0]
	r.sessions = r.sessions[:0]

	return nil
}

func (r *repository) insertReadings(tx *sql.Tx) error {
	if len(r.readings) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertReadingSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range r.readings {
		lambda := s.Reading.Lambda()
		if _, err := stmt.Exec(
			s.Timestamp.UnixMilli(),
			nullableID(s.CorrelationID),
			s.Reading.CO.Text('f'),
			s.Reading.CO2.Text('f'),
			s.Reading.O2.Text('f'),
			int64(s.Reading.HC),
			int64(s.Reading.NO),
			lambda.Text('f'),
		); err != nil {
			return err
		}
	}

	return nil
}

func (r *repository) insertSessions(tx *sql.Tx) error {
	if len(r.sessions) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertSessionSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range r.sessions {
		var lambda sql.NullString
		if s.Best != nil {
			l := s.Best.Lambda()
			lambda = sql.NullString{String: l.Text('f'), Valid: true}
		}

		if _, err := stmt.Exec(
			s.Timestamp.UnixMilli(),
			s.CorrelationID.String(),
			string(s.Event),
			lambda,
			int64(boolToInt(s.Published)),
		); err != nil {
			return err
		}
	}

	return nil
}

func (r *repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to roll back transaction")
	}
}

func nullableID(id uuid.UUID) sql.NullString {
	if id == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}
