package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/semmidev/backupd/internal/domain"
)

type ErrorKind string

const (
	KindJobNotFound ErrorKind = "job-not-found-or-inactive"
	KindProducer    ErrorKind = "producer-error"
	KindDelivery    ErrorKind = "delivery-error"
	KindUnexpected  ErrorKind = "unexpected-error"
)

type Producer interface {
	Produce(ctx context.Context, src domain.Source, format domain.OutputFormat, workDir string) (*domain.Artifact, error)
}

type Packager interface {
	Package(raw *domain.Artifact, format domain.OutputFormat) (*domain.Artifact, error)
}

type Channel interface {
	DeliverArtifact(ctx context.Context, dest domain.Destination, path, caption string) error
	SendText(ctx context.Context, dest domain.Destination, message string) error
}

// RunResult describes one job run. Error is "<kind>:<detail>" when Status is
// failed.
type RunResult struct {
	JobID            int64
	Status           domain.ExecutionStatus
	FileSize         int64
	Duration         time.Duration
	Error            string
	ErrorKind        ErrorKind
	BackupFile       string
	Attempts         int
	RetriesExhausted bool
}

func (r *RunResult) Failed() bool {
	return r.Status != domain.StatusSuccess
}

func (r *RunResult) fail(kind ErrorKind, detail string) {
	r.Status = domain.StatusFailed
	r.ErrorKind = kind
	r.Error = string(kind) + ":" + detail
}

func (r RunResult) MarshalJSON() ([]byte, error) {
	type wire struct {
		JobID            int64   `json:"job_id"`
		Status           string  `json:"status"`
		FileSize         int64   `json:"file_size,omitempty"`
		Duration         float64 `json:"duration"`
		Error            string  `json:"error,omitempty"`
		BackupFile       string  `json:"backup_file,omitempty"`
		Attempts         int     `json:"attempts,omitempty"`
		RetriesExhausted bool    `json:"retries_exhausted,omitempty"`
	}
	return json.Marshal(wire{
		JobID:            r.JobID,
		Status:           string(r.Status),
		FileSize:         r.FileSize,
		Duration:         r.Duration.Seconds(),
		Error:            r.Error,
		BackupFile:       r.BackupFile,
		Attempts:         r.Attempts,
		RetriesExhausted: r.RetriesExhausted,
	})
}

// DefaultNotifyTimeout bounds a failure report, which is sent even when the
// run's own context has been cancelled.
const DefaultNotifyTimeout = 2 * time.Minute

type PipelineConfig struct {
	// WorkDir holds the per-run workspaces. Empty means the OS temp dir.
	WorkDir       string
	NotifyTimeout time.Duration
}

type PipelineDeps struct {
	Jobs       domain.JobRepository
	Executions domain.ExecutionRepository
	Producer   Producer
	Packager   Packager
	Channel    Channel
	Targets    []ArchiveTarget
	Logger     Logger
	Metrics    Metrics
}

// Pipeline runs a single attempt of a job: produce, package, mirror and
// deliver, with one execution record per attempt.
type Pipeline struct {
	PipelineDeps
	cfg PipelineConfig
	now func() time.Time
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	deps.Metrics = metricsOrNop(deps.Metrics)
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	return &Pipeline{PipelineDeps: deps, cfg: cfg, now: time.Now}
}

// Run executes one attempt. The returned error is reserved for datastore
// failures; every other outcome is reported through the RunResult.
func (p *Pipeline) Run(ctx context.Context, jobID int64) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.Int64("backup.job_id", jobID)))
	defer span.End()

	start := p.now()
	res := &RunResult{JobID: jobID, Status: domain.StatusFailed}

	job, err := p.Jobs.GetActiveJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("load job %d: %w", jobID, err)
		}
		msg := fmt.Sprintf("BackupJob with ID %d not found or inactive", jobID)
		p.Logger.Errorf("%s", msg)
		res.fail(KindJobNotFound, msg)
		res.Duration = p.now().Sub(start)
		span.SetStatus(codes.Error, res.Error)
		p.Metrics.ObserveRun(string(res.Status), string(res.ErrorKind), res.Duration, 0)
		return res, nil
	}

	label := fmt.Sprintf("job %d", job.ID)
	p.Logger.Infof("[%s] Starting backup job: %s", label, job)

	rec := &domain.ExecutionRecord{
		JobID:     job.ID,
		Status:    domain.StatusFailed,
		Details:   "Backup job started",
		CreatedAt: start,
	}
	if err := p.Executions.CreateExecution(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create execution record for job %d: %w", job.ID, err)
	}

	final, kind, runErr := p.attempt(ctx, job, label, start)
	res.Duration = p.now().Sub(start)

	if runErr == nil {
		size := final.Size
		res.Status = domain.StatusSuccess
		res.FileSize = size
		res.BackupFile = filepath.Base(final.Path)
		rec.Status = domain.StatusSuccess
		rec.FileSize = &size
		rec.Details = fmt.Sprintf("Backup completed successfully in %.1fs. File sent to Telegram.", res.Duration.Seconds())
		p.Logger.Infof("[%s] Backup job completed successfully: %s", label, job)
	} else {
		res.fail(kind, runErr.Error())
		rec.Details = failureDetails(kind, runErr)
		p.Logger.Errorf("[%s] %s", label, rec.Details)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, res.Error)
		p.notifyFailure(ctx, job, label, runErr)
	}

	if err := p.Executions.UpdateExecution(context.WithoutCancel(ctx), rec); err != nil {
		return res, fmt.Errorf("update execution record %d: %w", rec.ID, err)
	}

	p.Metrics.ObserveRun(string(res.Status), string(res.ErrorKind), res.Duration, res.FileSize)
	return res, nil
}

// attempt owns the run workspace. It is removed on every return path,
// including a recovered panic.
func (p *Pipeline) attempt(ctx context.Context, job *domain.Job, label string, start time.Time) (final *domain.Artifact, kind ErrorKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			final, kind, err = nil, KindUnexpected, fmt.Errorf("panic: %v", r)
		}
	}()

	if p.cfg.WorkDir != "" {
		if err := os.MkdirAll(p.cfg.WorkDir, 0o700); err != nil {
			return nil, KindUnexpected, fmt.Errorf("create work dir: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(p.cfg.WorkDir, fmt.Sprintf("backupd-job%d-*", job.ID))
	if err != nil {
		return nil, KindUnexpected, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			p.Logger.Warnf("[%s] Failed to clean up workspace %s: %v", label, workDir, rmErr)
		} else {
			p.Logger.Debugf("[%s] Cleaned up workspace %s", label, workDir)
		}
	}()

	p.Logger.Infof("[%s] Creating backup for source: %s", label, job.Source.Name)
	raw, err := p.Producer.Produce(ctx, job.Source, job.OutputFormat, workDir)
	if err != nil {
		return nil, producerKind(err), err
	}
	p.Logger.Infof("[%s] Backup created: %s (%s) in %.1fs",
		label, filepath.Base(raw.Path), humanize.IBytes(uint64(raw.Size)), p.now().Sub(start).Seconds())

	final, err = p.Packager.Package(raw, job.OutputFormat)
	if err != nil {
		return nil, producerKind(err), err
	}
	name := filepath.Base(final.Path)

	mirror(ctx, p.Targets, p.Logger, label, final.Path, name)

	caption := SuccessMessage(job.Source.Name, name, final.Size, job.Source.TypeLabel(), p.now().Sub(start), p.now())
	p.Logger.Infof("[%s] Sending backup to Telegram destination: %s", label, job.Destination.Name)
	if err := p.Channel.DeliverArtifact(ctx, job.Destination, final.Path, caption); err != nil {
		var chErr *domain.ChannelError
		if errors.As(err, &chErr) {
			return nil, KindDelivery, err
		}
		return nil, KindUnexpected, err
	}
	return final, "", nil
}

func (p *Pipeline) notifyFailure(ctx context.Context, job *domain.Job, label string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.NotifyTimeout)
	defer cancel()

	msg := FailureMessage(job.Source.Name, job.Source.TypeLabel(), cause.Error(), p.now())
	if err := p.Channel.SendText(ctx, job.Destination, msg); err != nil {
		p.Logger.Errorf("[%s] Failed to send failure notification to Telegram: %v", label, err)
		p.Metrics.ObserveFailureNotification(false)
		return
	}
	p.Metrics.ObserveFailureNotification(true)
}

func producerKind(err error) ErrorKind {
	var prodErr *domain.ProducerError
	if errors.As(err, &prodErr) {
		return KindProducer
	}
	return KindUnexpected
}

func failureDetails(kind ErrorKind, err error) string {
	switch kind {
	case KindProducer:
		return "Backup failed: " + err.Error()
	case KindDelivery:
		return "Telegram upload failed: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}
