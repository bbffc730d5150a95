package usecase

import (
	"context"
	"fmt"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/cronexpr"
)

// Catalog is a declarative set of definitions keyed by name. Jobs reference
// their source and destination by Source.Name and Destination.Name.
type Catalog struct {
	Sources      []domain.Source
	Destinations []domain.Destination
	Jobs         []domain.Job
}

type CatalogResult struct {
	Sources      int `json:"sources"`
	Destinations int `json:"destinations"`
	Jobs         int `json:"jobs"`
}

type CatalogSync struct {
	repo   domain.CatalogRepository
	logger Logger
}

func NewCatalogSync(repo domain.CatalogRepository, logger Logger) *CatalogSync {
	return &CatalogSync{repo: repo, logger: logger}
}

// Sync upserts every definition. Job schedules and formats are validated here
// since this is where jobs are created.
func (uc *CatalogSync) Sync(ctx context.Context, cat Catalog) (*CatalogResult, error) {
	res := &CatalogResult{}

	for i := range cat.Sources {
		src := cat.Sources[i]
		if err := uc.repo.UpsertSource(ctx, &src); err != nil {
			return res, fmt.Errorf("upsert source %q: %w", src.Name, err)
		}
		res.Sources++
	}

	for i := range cat.Destinations {
		dst := cat.Destinations[i]
		if err := uc.repo.UpsertDestination(ctx, &dst); err != nil {
			return res, fmt.Errorf("upsert destination %q: %w", dst.Name, err)
		}
		res.Destinations++
	}

	for i := range cat.Jobs {
		job := cat.Jobs[i]
		if _, err := cronexpr.Parse(job.Schedule); err != nil {
			return res, fmt.Errorf("job %q: %w", job.Name, err)
		}
		if !job.OutputFormat.Valid() {
			return res, fmt.Errorf("job %q: unsupported output format %q", job.Name, job.OutputFormat)
		}
		if err := uc.repo.UpsertJob(ctx, &job); err != nil {
			return res, fmt.Errorf("upsert job %q: %w", job.Name, err)
		}
		uc.logger.Infof("✓ Synced job %s: %s (%s)", job.Name, job.Schedule, job.OutputFormat)
		res.Jobs++
	}

	uc.logger.Infof("Catalog synced: %d source(s), %d destination(s), %d job(s)",
		res.Sources, res.Destinations, res.Jobs)
	return res, nil
}
