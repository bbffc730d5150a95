// Package postgres stores the catalog and audit trail in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/semmidev/backupd/internal/domain"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// Open connects with dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const jobSelect = `
SELECT j.id, j.name, j.schedule, j.output_format, j.is_active, j.created_at,
       s.id, s.name, s.kind, s.engine, s.host, s.port, s.db_name, s.username, s.password, s.volume,
       d.id, d.name, d.bot_token, d.chat_id
FROM backup_jobs j
JOIN sources s ON s.id = j.source_id
JOIN destinations d ON d.id = j.destination_id`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                  domain.Job
		format, kind, engine string
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Schedule, &format, &job.IsActive, &job.CreatedAt,
		&job.Source.ID, &job.Source.Name, &kind, &engine,
		&job.Source.Host, &job.Source.Port, &job.Source.Database, &job.Source.User,
		&job.Source.Password, &job.Source.Volume,
		&job.Destination.ID, &job.Destination.Name, &job.Destination.BotToken, &job.Destination.ChatID,
	)
	if err != nil {
		return nil, err
	}
	job.OutputFormat = domain.OutputFormat(format)
	job.Source.Kind = domain.SourceKind(kind)
	job.Source.Engine = domain.Engine(engine)
	return &job, nil
}

func (s *Store) getJob(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

func (s *Store) GetActiveJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.getJob(ctx, jobSelect+` WHERE j.id = $1 AND j.is_active`, id)
}

func (s *Store) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.getJob(ctx, jobSelect+` WHERE j.id = $1`, id)
}

func (s *Store) listJobs(ctx context.Context, query string) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx, jobSelect+` WHERE j.is_active ORDER BY j.id`)
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx, jobSelect+` ORDER BY j.id`)
}

func (s *Store) CreateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO execution_logs (job_id, status, details, file_size, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		rec.JobID, string(rec.Status), rec.Details, rec.FileSize, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_logs SET status = $2, details = $3, file_size = $4 WHERE id = $1`,
		rec.ID, string(rec.Status), rec.Details, rec.FileSize,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution record %d: %w", rec.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CountExecutionsSince(ctx context.Context, jobID int64, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM execution_logs WHERE job_id = $1 AND created_at >= $2`,
		jobID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution records: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListExecutions(ctx context.Context, jobID int64, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, status, details, file_size, created_at FROM execution_logs
		 WHERE job_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec    domain.ExecutionRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &status, &rec.Details, &rec.FileSize, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		rec.Status = domain.ExecutionStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSource(ctx context.Context, src *domain.Source) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sources (name, kind, engine, host, port, db_name, username, password, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind, engine = EXCLUDED.engine, host = EXCLUDED.host, port = EXCLUDED.port,
			db_name = EXCLUDED.db_name, username = EXCLUDED.username, password = EXCLUDED.password,
			volume = EXCLUDED.volume, updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		src.Name, string(src.Kind), string(src.Engine), src.Host, src.Port, src.Database,
		src.User, src.Password, src.Volume,
	).Scan(&src.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", src.Name, err)
	}
	return nil
}

func (s *Store) UpsertDestination(ctx context.Context, dst *domain.Destination) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO destinations (name, bot_token, chat_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			bot_token = EXCLUDED.bot_token, chat_id = EXCLUDED.chat_id, updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		dst.Name, dst.BotToken, dst.ChatID,
	).Scan(&dst.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert destination %s: %w", dst.Name, err)
	}
	return nil
}

func (s *Store) UpsertJob(ctx context.Context, job *domain.Job) error {
	src, err := s.GetSourceByName(ctx, job.Source.Name)
	if err != nil {
		return fmt.Errorf("job %s: source %q: %w", job.Name, job.Source.Name, err)
	}
	dst, err := s.GetDestinationByName(ctx, job.Destination.Name)
	if err != nil {
		return fmt.Errorf("job %s: destination %q: %w", job.Name, job.Destination.Name, err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO backup_jobs (name, source_id, destination_id, schedule, output_format, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			source_id = EXCLUDED.source_id, destination_id = EXCLUDED.destination_id,
			schedule = EXCLUDED.schedule, output_format = EXCLUDED.output_format,
			is_active = EXCLUDED.is_active, updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at`,
		job.Name, src.ID, dst.ID, job.Schedule, string(job.OutputFormat), job.IsActive,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.Name, err)
	}

	job.Source = *src
	job.Destination = *dst
	return nil
}

func (s *Store) GetSourceByName(ctx context.Context, name string) (*domain.Source, error) {
	var (
		src          domain.Source
		kind, engine string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, kind, engine, host, port, db_name, username, password, volume FROM sources WHERE name = $1`,
		name,
	).Scan(&src.ID, &src.Name, &kind, &engine, &src.Host, &src.Port, &src.Database, &src.User, &src.Password, &src.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	src.Kind = domain.SourceKind(kind)
	src.Engine = domain.Engine(engine)
	return &src, nil
}

func (s *Store) GetDestinationByName(ctx context.Context, name string) (*domain.Destination, error) {
	var dst domain.Destination
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, bot_token, chat_id FROM destinations WHERE name = $1`, name,
	).Scan(&dst.ID, &dst.Name, &dst.BotToken, &dst.ChatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load destination: %w", err)
	}
	return &dst, nil
}
