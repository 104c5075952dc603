package database

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type DB struct {
	log     zerolog.Logger
	handler *sql.DB
	ctx     context.Context
	cancel  func()

	Driver string
	DSN    string

	squirrel sq.StatementBuilderType
}

func NewDB(cfg *domain.Config, log logger.Logger) (*DB, error) {
	db := &DB{
		log: log.With().Str("module", "database").Logger(),
	}
	db.ctx, db.cancel = context.WithCancel(context.Background())

	switch cfg.Database.Type {
	case "sqlite":
		db.Driver = "sqlite"
		db.DSN = dataSourceName(cfg.ConfigPath, "nanosync.db")
		db.squirrel = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	case "postgres", "postgresql":
		pg := cfg.Database.Postgres
		if pg.Host == "" || pg.Port == 0 || pg.Database == "" {
			return nil, errors.New("postgres configuration is incomplete")
		}
		db.DSN = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pg.Host, pg.Port, pg.User, pg.Pass, pg.Database, pg.SslMode)
		db.Driver = "postgres"
		db.squirrel = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, errors.Errorf("unsupported database type: %v", cfg.Database.Type)
	}

	return db, nil
}

func dataSourceName(configPath string, name string) string {
	if configPath != "" {
		return path.Join(configPath, name)
	}

	return name
}

func (db *DB) Open() error {
	if db.DSN == "" {
		return errors.New("database DSN is required but not configured")
	}

	handler, err := sql.Open(db.Driver, db.DSN)
	if err != nil {
		db.log.Error().Err(err).Str("driver", db.Driver).Msg("Failed to open database")
		return errors.Wrap(err, "failed to open database")
	}

	if db.Driver == "sqlite" {
		// a single connection serializes writers and keeps in-memory
		// databases from splitting across connections
		handler.SetMaxOpenConns(1)

		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := handler.ExecContext(db.ctx, pragma); err != nil {
				_ = handler.Close()
				return errors.Wrapf(err, "could not set %q", pragma)
			}
		}
		db.log.Info().Str("dsn", db.DSN).Msg("Using SQLite driver")
	} else {
		db.log.Info().Msg("Using PostgreSQL driver")
	}

	if err := handler.PingContext(db.ctx); err != nil {
		_ = handler.Close()
		db.log.Error().Err(err).Str("driver", db.Driver).Msg("Failed to connect database")
		return errors.Wrap(err, "failed to connect database")
	}

	db.handler = handler
	db.log.Info().Msg("Database connection established successfully.")

	if err := db.migrate(); err != nil {
		db.log.Error().Err(err).Msg("Failed to run database migrations")
		return errors.Wrap(err, "failed to run database migrations")
	}

	return nil
}

func (db *DB) Close() error {
	db.cancel()

	if db.handler == nil {
		return nil
	}

	if err := db.handler.Close(); err != nil {
		return errors.Wrap(err, "could not close database")
	}

	db.log.Info().Msg("Database service closed.")
	return nil
}

func (db *DB) Ping() error {
	if db.handler == nil {
		return errors.New("database handler is not initialized")
	}

	if err := db.handler.PingContext(db.ctx); err != nil {
		db.log.Warn().Err(err).Msg("Database ping failed")
		return errors.Wrap(err, "database ping failed")
	}

	db.log.Debug().Msg("Database ping successful")
	return nil
}
