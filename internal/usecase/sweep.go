package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/cronexpr"
)

const (
	DefaultDueWindow   = 70 * time.Second
	DefaultDedupWindow = 2 * time.Minute
)

// Enqueuer submits a task and returns an opaque task id.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, jobID int64) (string, error)
}

type SweepConfig struct {
	// DueWindow is how far behind now the previous cron instant may be for
	// a job to count as due.
	DueWindow time.Duration
	// DedupWindow suppresses a due job that already has an execution record
	// this recent.
	DedupWindow time.Duration
	Location    *time.Location
}

type TriggeredJob struct {
	JobID       int64     `json:"job_id"`
	JobName     string    `json:"job_name"`
	Schedule    string    `json:"schedule"`
	ScheduledAt time.Time `json:"scheduled_at"`
	TaskID      string    `json:"task_id"`
}

type SweepSummary struct {
	Timestamp     time.Time      `json:"timestamp"`
	CheckedJobs   int            `json:"checked_jobs"`
	TriggeredJobs int            `json:"triggered_jobs"`
	Triggered     []TriggeredJob `json:"triggered_job_details"`
	Errors        []string       `json:"errors"`
}

type Sweeper struct {
	jobs    domain.JobRepository
	execs   domain.ExecutionRepository
	queue   Enqueuer
	cfg     SweepConfig
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

func NewSweeper(
	jobs domain.JobRepository,
	execs domain.ExecutionRepository,
	queue Enqueuer,
	cfg SweepConfig,
	logger Logger,
	metrics Metrics,
) *Sweeper {
	if cfg.DueWindow <= 0 {
		cfg.DueWindow = DefaultDueWindow
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Sweeper{
		jobs:    jobs,
		execs:   execs,
		queue:   queue,
		cfg:     cfg,
		logger:  logger,
		metrics: metricsOrNop(metrics),
		now:     time.Now,
	}
}

// Sweep enqueues every active job whose schedule fired within the due window
// and that has not run within the dedup window. A malformed schedule is
// reported in the summary; datastore and queue failures abort the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepSummary, error) {
	ctx, span := tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	now := s.now().In(s.cfg.Location)
	summary := &SweepSummary{
		Timestamp: now,
		Triggered: []TriggeredJob{},
		Errors:    []string{},
	}
	s.logger.Debugf("Checking due jobs at %s", now.Format(time.RFC3339))

	jobs, err := s.jobs.ListActiveJobs(ctx)
	if err != nil {
		span.RecordError(err)
		return summary, fmt.Errorf("list active jobs: %w", err)
	}

	for _, job := range jobs {
		summary.CheckedJobs++

		triggered, err := s.check(ctx, job, now)
		if err != nil {
			var parseErr *domain.ScheduleParseError
			if errors.As(err, &parseErr) {
				msg := fmt.Sprintf("Error processing job %s (ID: %d): %v", job, job.ID, err)
				s.logger.Errorf("%s", msg)
				summary.Errors = append(summary.Errors, msg)
				continue
			}
			span.RecordError(err)
			s.metrics.ObserveSweep(summary.CheckedJobs, summary.TriggeredJobs, len(summary.Errors)+1)
			return summary, err
		}
		if triggered != nil {
			summary.Triggered = append(summary.Triggered, *triggered)
			summary.TriggeredJobs++
		}
	}

	s.metrics.ObserveSweep(summary.CheckedJobs, summary.TriggeredJobs, len(summary.Errors))

	if summary.TriggeredJobs > 0 {
		s.logger.Infof("Check due jobs completed: %d jobs triggered out of %d checked",
			summary.TriggeredJobs, summary.CheckedJobs)
	} else {
		s.logger.Debugf("Check due jobs completed: no jobs triggered out of %d checked", summary.CheckedJobs)
	}
	return summary, nil
}

func (s *Sweeper) check(ctx context.Context, job domain.Job, now time.Time) (*TriggeredJob, error) {
	sched, err := cronexpr.Parse(job.Schedule)
	if err != nil {
		return nil, err
	}

	prev, ok := sched.Prev(now)
	if !ok || now.Sub(prev) > s.cfg.DueWindow {
		return nil, nil
	}

	recent, err := s.execs.CountExecutionsSince(ctx, job.ID, now.Add(-s.cfg.DedupWindow))
	if err != nil {
		return nil, fmt.Errorf("count recent executions of job %d: %w", job.ID, err)
	}
	if recent > 0 {
		s.logger.Debugf("Skipping job %s - already executed recently", job)
		return nil, nil
	}

	s.logger.Infof("Triggering backup job: %s (scheduled: %s)", job, job.Schedule)
	taskID, err := s.queue.Enqueue(ctx, TaskExecuteBackup, job.ID)
	if err != nil {
		return nil, fmt.Errorf("enqueue job %d: %w", job.ID, err)
	}

	return &TriggeredJob{
		JobID:       job.ID,
		JobName:     job.String(),
		Schedule:    job.Schedule,
		ScheduledAt: prev,
		TaskID:      taskID,
	}, nil
}
