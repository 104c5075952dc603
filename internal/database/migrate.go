package database

import (
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_jobs
(
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type   TEXT    NOT NULL,
    entity_id     TEXT    NOT NULL,
    created_at    INTEGER NOT NULL,
    failure_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS sync_jobs_created_at_index
    ON sync_jobs (created_at, id);

CREATE TABLE IF NOT EXISTS notes
(
    id             TEXT PRIMARY KEY,
    title          TEXT    NOT NULL DEFAULT '',
    body           TEXT    NOT NULL DEFAULT '',
    updated_at     INTEGER NOT NULL,
    last_synced_at INTEGER
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sync_jobs
(
    id            BIGSERIAL PRIMARY KEY,
    entity_type   TEXT    NOT NULL,
    entity_id     TEXT    NOT NULL,
    created_at    BIGINT  NOT NULL,
    failure_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS sync_jobs_created_at_index
    ON sync_jobs (created_at, id);

CREATE TABLE IF NOT EXISTS notes
(
    id             TEXT PRIMARY KEY,
    title          TEXT   NOT NULL DEFAULT '',
    body           TEXT   NOT NULL DEFAULT '',
    updated_at     BIGINT NOT NULL,
    last_synced_at BIGINT
);
`

func (db *DB) migrate() error {
	schema := sqliteSchema
	if db.Driver == "postgres" {
		schema = postgresSchema
	}

	tx, err := db.handler.BeginTx(db.ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin migration")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(db.ctx, schema); err != nil {
		return errors.Wrap(err, "could not apply schema")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit migration")
	}

	db.log.Debug().Msg("Database schema up to date")
	return nil
}
