package telemetry

import (
	"database/sql"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
)

const (
	SchemaVersion = 1

	// Decimal columns are TEXT so values keep the analyzer's precision.
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS readings (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp      INTEGER NOT NULL,
	       correlation_id TEXT,
	       co             TEXT NOT NULL,
	       co2            TEXT NOT NULL,
	       o2             TEXT NOT NULL,
	       hc_ppm         INTEGER NOT NULL CHECK (typeof(hc_ppm) = 'integer'),
	       no_ppm         INTEGER NOT NULL CHECK (typeof(no_ppm) = 'integer'),
	       lambda         TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sessions (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp      INTEGER NOT NULL,
	       correlation_id TEXT NOT NULL,
	       event          TEXT NOT NULL CHECK (event IN ('started', 'completed')),
	       lambda         TEXT,
	       published      INTEGER NOT NULL CHECK (published IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS sessions_correlation_id ON sessions (correlation_id);`

	insertReadingSQL = `
    INSERT INTO readings (
        timestamp, correlation_id,
        co, co2, o2, hc_ppm, no_ppm,
        lambda
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertSessionSQL = `
    INSERT INTO sessions (
        timestamp, correlation_id, event, lambda, published
    ) VALUES (?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
