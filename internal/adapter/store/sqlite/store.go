// Package sqlite is the default datastore: a single SQLite file holding the
// catalog and the execution audit trail.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/semmidev/backupd/internal/domain"
)

//go:embed schema.sql
var schema string

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store timestamps are unix milliseconds.
type Store struct {
	db *sql.DB
}

var _ domain.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")

	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobSelect = `
SELECT j.id, j.name, j.schedule, j.output_format, j.is_active, j.created_at,
       s.id, s.name, s.kind, s.engine, s.host, s.port, s.db_name, s.username, s.password, s.volume,
       d.id, d.name, d.bot_token, d.chat_id
FROM backup_jobs j
JOIN sources s ON s.id = j.source_id
JOIN destinations d ON d.id = j.destination_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		active    int
		createdAt int64
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Schedule, &job.OutputFormat, &active, &createdAt,
		&job.Source.ID, &job.Source.Name, &job.Source.Kind, &job.Source.Engine,
		&job.Source.Host, &job.Source.Port, &job.Source.Database, &job.Source.User,
		&job.Source.Password, &job.Source.Volume,
		&job.Destination.ID, &job.Destination.Name, &job.Destination.BotToken, &job.Destination.ChatID,
	)
	if err != nil {
		return nil, err
	}
	job.IsActive = active != 0
	job.CreatedAt = time.UnixMilli(createdAt)
	return &job, nil
}

func (s *Store) getJob(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

func (s *Store) GetActiveJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.getJob(ctx, jobSelect+` WHERE j.id = ? AND j.is_active = 1`, id)
}

func (s *Store) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.getJob(ctx, jobSelect+` WHERE j.id = ?`, id)
}

func (s *Store) listJobs(ctx context.Context, query string) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query)
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
	return s.listJobs(ctx, jobSelect+` WHERE j.is_active = 1 ORDER BY j.id`)
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listJobs(ctx, jobSelect+` ORDER BY j.id`)
}

func (s *Store) CreateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs(job_id, status, details, file_size, created_at) VALUES(?,?,?,?,?)`,
		rec.JobID, string(rec.Status), rec.Details, nullInt(rec.FileSize), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read execution record id: %w", err)
	}
	rec.ID = id
	return nil
}

// UpdateExecution writes the terminal state; created_at never changes.
func (s *Store) UpdateExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_logs SET status = ?, details = ?, file_size = ? WHERE id = ?`,
		string(rec.Status), rec.Details, nullInt(rec.FileSize), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution record %d: %w", rec.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CountExecutionsSince(ctx context.Context, jobID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_logs WHERE job_id = ? AND created_at >= ?`,
		jobID, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution records: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_logs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution records: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) ListExecutions(ctx context.Context, jobID int64, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, status, details, file_size, created_at FROM execution_logs
		 WHERE job_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec       domain.ExecutionRecord
			size      sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Status, &rec.Details, &size, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		if size.Valid {
			v := size.Int64
			rec.FileSize = &v
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSource(ctx context.Context, src *domain.Source) error {
	now := time.Now().UnixMilli()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sources(name, kind, engine, host, port, db_name, username, password, volume, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   kind = excluded.kind, engine = excluded.engine, host = excluded.host, port = excluded.port,
		   db_name = excluded.db_name, username = excluded.username, password = excluded.password,
		   volume = excluded.volume, updated_at = excluded.updated_at
		 RETURNING id`,
		src.Name, string(src.Kind), string(src.Engine), src.Host, src.Port, src.Database,
		src.User, src.Password, src.Volume, now, now,
	).Scan(&src.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", src.Name, err)
	}
	return nil
}

func (s *Store) UpsertDestination(ctx context.Context, dst *domain.Destination) error {
	now := time.Now().UnixMilli()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO destinations(name, bot_token, chat_id, created_at, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   bot_token = excluded.bot_token, chat_id = excluded.chat_id, updated_at = excluded.updated_at
		 RETURNING id`,
		dst.Name, dst.BotToken, dst.ChatID, now, now,
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

	now := time.Now().UnixMilli()
	var createdAt int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO backup_jobs(name, source_id, destination_id, schedule, output_format, is_active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   source_id = excluded.source_id, destination_id = excluded.destination_id,
		   schedule = excluded.schedule, output_format = excluded.output_format,
		   is_active = excluded.is_active, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		job.Name, src.ID, dst.ID, job.Schedule, string(job.OutputFormat), boolInt(job.IsActive), now, now,
	).Scan(&job.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.Name, err)
	}

	job.Source = *src
	job.Destination = *dst
	job.CreatedAt = time.UnixMilli(createdAt)
	return nil
}

func (s *Store) GetSourceByName(ctx context.Context, name string) (*domain.Source, error) {
	var src domain.Source
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, engine, host, port, db_name, username, password, volume FROM sources WHERE name = ?`,
		name,
	).Scan(&src.ID, &src.Name, &src.Kind, &src.Engine, &src.Host, &src.Port, &src.Database, &src.User, &src.Password, &src.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	return &src, nil
}

func (s *Store) GetDestinationByName(ctx context.Context, name string) (*domain.Destination, error) {
	var dst domain.Destination
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, bot_token, chat_id FROM destinations WHERE name = ?`, name,
	).Scan(&dst.ID, &dst.Name, &dst.BotToken, &dst.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load destination: %w", err)
	}
	return &dst, nil
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
