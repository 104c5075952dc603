package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type NoteRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewNoteRepo(log logger.Logger, db *DB) domain.NoteRepo {
	return &NoteRepo{
		log: log.With().Str("repo", "note").Logger(),
		db:  db,
	}
}

func (r *NoteRepo) Store(ctx context.Context, note *domain.Note) error {
	var lastSynced sql.NullInt64
	if note.LastSyncedAt != nil {
		lastSynced = sql.NullInt64{Int64: note.LastSyncedAt.UnixNano(), Valid: true}
	}

	query, args, err := r.db.squirrel.
		Insert("notes").
		Columns("id", "title", "body", "updated_at", "last_synced_at").
		Values(note.ID, note.Title, note.Body, note.UpdatedAt.UnixNano(), lastSynced).
		Suffix("ON CONFLICT (id) DO UPDATE SET title = excluded.title, body = excluded.body, updated_at = excluded.updated_at, last_synced_at = excluded.last_synced_at").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "error executing query")
	}

	r.log.Trace().Str("note_id", note.ID).Msg("note stored")

	return nil
}

func (r *NoteRepo) StoreIfUnchanged(ctx context.Context, note *domain.Note, expected time.Time) (bool, error) {
	query, args, err := r.db.squirrel.
		Update("notes").
		Set("title", note.Title).
		Set("body", note.Body).
		Set("updated_at", note.UpdatedAt.UnixNano()).
		Where(sq.Eq{"id": note.ID, "updated_at": expected.UnixNano()}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "error building query")
	}

	res, err := r.db.handler.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "error executing query")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "error getting rows affected")
	}

	return rows > 0, nil
}

func (r *NoteRepo) MarkSynced(ctx context.Context, id string, snapshot time.Time, at time.Time) error {
	// CASTs keep postgres from typing the bare parameters as text
	query, args, err := r.db.squirrel.
		Update("notes").
		Set("last_synced_at", sq.Expr(
			"CASE WHEN updated_at > ? THEN CAST(? AS BIGINT) ELSE CAST(? AS BIGINT) END",
			snapshot.UnixNano(), snapshot.UnixNano(), at.UnixNano(),
		)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	res, err := r.db.handler.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "error executing query")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "error getting rows affected")
	}

	if rows == 0 {
		return domain.ErrRecordNotFound
	}

	return nil
}

func (r *NoteRepo) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	query, args, err := r.db.squirrel.
		Select("id", "title", "body", "updated_at", "last_synced_at").
		From("notes").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	var (
		note       domain.Note
		updatedAt  int64
		lastSynced sql.NullInt64
	)

	row := r.db.handler.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&note.ID, &note.Title, &note.Body, &updatedAt, &lastSynced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, errors.Wrap(err, "error scanning row")
	}

	note.UpdatedAt = time.Unix(0, updatedAt)
	if lastSynced.Valid {
		t := time.Unix(0, lastSynced.Int64)
		note.LastSyncedAt = &t
	}

	return &note, nil
}

func (r *NoteRepo) Delete(ctx context.Context, id string) error {
	query, args, err := r.db.squirrel.
		Delete("notes").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "error executing query")
	}

	return nil
}
