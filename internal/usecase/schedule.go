package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/cronexpr"
)

const (
	DefaultPreviewCount  = 10
	DefaultPreviewWithin = 24 * time.Hour
)

type ScheduleReport struct {
	JobID       int64       `json:"job_id"`
	JobName     string      `json:"job_name"`
	Schedule    string      `json:"schedule"`
	CurrentTime time.Time   `json:"current_time"`
	NextRuns    []time.Time `json:"next_runs"`
	Valid       bool        `json:"is_valid_cron"`
	Error       string      `json:"error,omitempty"`
}

// SchedulePreview lists the upcoming firing times of a job, active or not.
type SchedulePreview struct {
	jobs domain.JobRepository
	loc  *time.Location
	now  func() time.Time
}

func NewSchedulePreview(jobs domain.JobRepository, loc *time.Location) *SchedulePreview {
	if loc == nil {
		loc = time.Local
	}
	return &SchedulePreview{jobs: jobs, loc: loc, now: time.Now}
}

// Preview returns up to count runs no further than within from now. A
// malformed schedule yields an invalid report, not an error.
func (s *SchedulePreview) Preview(ctx context.Context, jobID int64, count int, within time.Duration) (*ScheduleReport, error) {
	if count <= 0 {
		count = DefaultPreviewCount
	}
	if within <= 0 {
		within = DefaultPreviewWithin
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", jobID, err)
	}

	now := s.now().In(s.loc)
	report := &ScheduleReport{
		JobID:       job.ID,
		JobName:     job.String(),
		Schedule:    job.Schedule,
		CurrentTime: now,
		NextRuns:    []time.Time{},
	}

	sched, err := cronexpr.Parse(job.Schedule)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}

	report.Valid = true
	report.NextRuns = sched.NextN(now, count, within)
	return report, nil
}
