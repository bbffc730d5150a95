package domain

import (
	"context"
	"time"
)

type JobRepository interface {
	// GetActiveJob returns ErrNotFound when the job is missing or inactive.
	GetActiveJob(ctx context.Context, id int64) (*Job, error)
	GetJob(ctx context.Context, id int64) (*Job, error)
	ListActiveJobs(ctx context.Context) ([]Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	UpdateExecution(ctx context.Context, rec *ExecutionRecord) error
	CountExecutionsSince(ctx context.Context, jobID int64, since time.Time) (int, error)
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListExecutions(ctx context.Context, jobID int64, limit int) ([]ExecutionRecord, error)
}

// CatalogRepository upserts definitions by name. It stands in for the
// administrative surface that normally owns these rows.
type CatalogRepository interface {
	UpsertSource(ctx context.Context, src *Source) error
	UpsertDestination(ctx context.Context, dst *Destination) error
	// UpsertJob resolves the source and destination by name.
	UpsertJob(ctx context.Context, job *Job) error
	GetSourceByName(ctx context.Context, name string) (*Source, error)
	GetDestinationByName(ctx context.Context, name string) (*Destination, error)
}

type Store interface {
	JobRepository
	ExecutionRepository
	CatalogRepository
	Ping(ctx context.Context) error
	Close() error
}
