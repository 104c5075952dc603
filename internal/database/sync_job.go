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

type SyncJobRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewSyncJobRepo(log logger.Logger, db *DB) domain.SyncJobRepo {
	return &SyncJobRepo{
		log: log.With().Str("repo", "sync_job").Logger(),
		db:  db,
	}
}

var syncJobColumns = []string{"id", "entity_type", "entity_id", "created_at", "failure_count"}

func (r *SyncJobRepo) Create(ctx context.Context, job *domain.SyncJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	query, args, err := r.db.squirrel.
		Insert("sync_jobs").
		Columns("entity_type", "entity_id", "created_at", "failure_count").
		Values(job.EntityType.String(), job.EntityID, job.CreatedAt.UnixNano(), job.FailureCount).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	if err := r.db.handler.QueryRowContext(ctx, query, args...).Scan(&job.ID); err != nil {
		return errors.Wrap(err, "error executing query")
	}

	r.log.Trace().Int64("job_id", job.ID).Str("entity_type", job.EntityType.String()).Str("entity_id", job.EntityID).Msg("sync job created")

	return nil
}

func (r *SyncJobRepo) Save(ctx context.Context, job *domain.SyncJob) error {
	query, args, err := r.db.squirrel.
		Update("sync_jobs").
		Set("failure_count", job.FailureCount).
		Where(sq.Eq{"id": job.ID}).
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

func (r *SyncJobRepo) Destroy(ctx context.Context, id int64) error {
	query, args, err := r.db.squirrel.
		Delete("sync_jobs").
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

func (r *SyncJobRepo) FindByID(ctx context.Context, id int64) (*domain.SyncJob, error) {
	query, args, err := r.db.squirrel.
		Select(syncJobColumns...).
		From("sync_jobs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	job, err := scanSyncJob(r.db.handler.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, errors.Wrap(err, "error scanning row")
	}

	return job, nil
}

func (r *SyncJobRepo) Oldest(ctx context.Context, exclude []int64) (*domain.SyncJob, error) {
	builder := r.db.squirrel.
		Select(syncJobColumns...).
		From("sync_jobs").
		OrderBy("created_at ASC", "id ASC").
		Limit(1)

	if len(exclude) > 0 {
		builder = builder.Where(sq.NotEq{"id": exclude})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	job, err := scanSyncJob(r.db.handler.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "error scanning row")
	}

	return job, nil
}

func (r *SyncJobRepo) List(ctx context.Context, limit uint64) ([]domain.SyncJob, error) {
	builder := r.db.squirrel.
		Select(syncJobColumns...).
		From("sync_jobs").
		OrderBy("created_at ASC", "id ASC")

	if limit > 0 {
		builder = builder.Limit(limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	rows, err := r.db.handler.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	jobs := make([]domain.SyncJob, 0)
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row error")
	}

	return jobs, nil
}

func (r *SyncJobRepo) Count(ctx context.Context) (int, error) {
	query, args, err := r.db.squirrel.
		Select("COUNT(*)").
		From("sync_jobs").
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "error building query")
	}

	var count int
	if err := r.db.handler.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "error executing query")
	}

	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncJob(row rowScanner) (*domain.SyncJob, error) {
	var (
		job        domain.SyncJob
		entityType string
		createdAt  int64
	)

	if err := row.Scan(&job.ID, &entityType, &job.EntityID, &createdAt, &job.FailureCount); err != nil {
		return nil, err
	}

	job.EntityType = domain.EntityType(entityType)
	job.CreatedAt = time.Unix(0, createdAt)

	return &job, nil
}
