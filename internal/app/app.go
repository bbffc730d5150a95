package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/backupd/internal/adapter/channel"
	"github.com/semmidev/backupd/internal/adapter/container"
	"github.com/semmidev/backupd/internal/adapter/packager"
	"github.com/semmidev/backupd/internal/adapter/probe"
	"github.com/semmidev/backupd/internal/adapter/producer"
	"github.com/semmidev/backupd/internal/adapter/storage"
	"github.com/semmidev/backupd/internal/adapter/store/postgres"
	"github.com/semmidev/backupd/internal/adapter/store/sqlite"
	"github.com/semmidev/backupd/internal/config"
	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/command"
	"github.com/semmidev/backupd/internal/infrastructure/logger"
	"github.com/semmidev/backupd/internal/infrastructure/metrics"
	"github.com/semmidev/backupd/internal/infrastructure/queue"
	"github.com/semmidev/backupd/internal/infrastructure/tracing"
	"github.com/semmidev/backupd/internal/usecase"
)

type App struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger
	location   *time.Location

	store    domain.Store
	metrics  *metrics.Metrics
	channel  *channel.Telegram
	prober   *probe.Prober
	targets  []usecase.ArchiveTarget
	queue    *queue.Pool
	tracing  tracing.ShutdownFunc
	pipeline *usecase.Pipeline

	drainTimeout time.Duration

	executor  *usecase.Executor
	sweeper   *usecase.Sweeper
	retention *usecase.Retention
	preview   *usecase.SchedulePreview
	catalog   *usecase.CatalogSync
}

// New wires every component. configPath is kept for hot reload and may be
// empty.
func New(ctx context.Context, cfg *config.Config, configPath string) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	loc, err := cfg.App.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	log.Infof("✓ Datastore ready (%s)", cfg.Store.Driver)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint: cfg.Observability.OTLPEndpoint,
		Insecure: cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a := &App{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		location:   loc,
		store:      st,
		metrics:    metrics.New(),
		tracing:    shutdownTracing,

		drainTimeout: defaultDrainTimeout,
	}

	// Volume sources need Docker; everything else works without it.
	var runtime producer.VolumeRuntime
	var volumes probe.VolumeChecker
	if docker, err := container.NewFromEnv(cfg.Producer.HelperImage); err != nil {
		log.Warnf("Docker unavailable, volume backups disabled: %v", err)
	} else {
		runtime, volumes = docker, docker
	}

	prod := producer.New(producer.Config{
		PgDumpPath:      cfg.Producer.PgDumpPath,
		MySQLDumpPath:   cfg.Producer.MySQLDumpPath,
		SQLite3Path:     cfg.Producer.SQLite3Path,
		PostgresTimeout: cfg.Producer.PostgresTimeout,
		MySQLTimeout:    cfg.Producer.MySQLTimeout,
		SQLiteTimeout:   cfg.Producer.SQLiteTimeout,
	}, command.NewExecRunner(), runtime, log)

	a.channel = channel.NewTelegram(channel.Config{
		APIEndpoint:          cfg.Telegram.APIEndpoint,
		MaxFileSize:          cfg.Telegram.MaxFileSize,
		UploadConnectTimeout: cfg.Telegram.UploadConnectTimeout,
		UploadWriteTimeout:   cfg.Telegram.UploadWriteTimeout,
		UploadReadTimeout:    cfg.Telegram.UploadReadTimeout,
		TextConnectTimeout:   cfg.Telegram.TextConnectTimeout,
		TextTimeout:          cfg.Telegram.TextTimeout,
		RatePerSecond:        cfg.Telegram.RatePerSecond,
		Burst:                cfg.Telegram.Burst,
	}, log)

	a.prober = probe.New(volumes)
	a.targets = initializeArchiveTargets(ctx, cfg, log)
	a.queue = queue.New(queue.Config{
		Workers:   cfg.Worker.Concurrency,
		QueueSize: cfg.Worker.QueueSize,
	}, log)

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Jobs:       st,
		Executions: st,
		Producer:   prod,
		Packager:   packager.New(),
		Channel:    a.channel,
		Targets:    a.targets,
		Logger:     log,
		Metrics:    a.metrics,
	}, usecase.PipelineConfig{WorkDir: cfg.App.WorkDir})

	a.executor = usecase.NewExecutor(a.pipeline, usecase.RetryConfig{
		MaxRetries: cfg.Worker.MaxRetries,
		Backoff:    cfg.Worker.RetryBackoff,
	}, log, a.metrics)

	a.sweeper = usecase.NewSweeper(st, st, a.queue, usecase.SweepConfig{
		DueWindow:   cfg.Scheduler.DueWindow,
		DedupWindow: cfg.Scheduler.DedupWindow,
		Location:    loc,
	}, log, a.metrics)

	a.retention = usecase.NewRetention(st, a.targets, usecase.RetentionConfig{
		ExecutionLogDays: cfg.Retention.ExecutionLogDays,
		ArchiveDays:      cfg.Archive.RetentionDays,
	}, log, a.metrics)

	a.preview = usecase.NewSchedulePreview(st, loc)
	a.catalog = usecase.NewCatalogSync(st, log)

	a.queue.Register(usecase.TaskExecuteBackup, a.handleBackupTask)

	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (domain.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "sqlite":
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, BusyTimeout: cfg.BusyTimeout})
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

func initializeArchiveTargets(ctx context.Context, cfg *config.Config, log *logger.Logger) []usecase.ArchiveTarget {
	var targets []usecase.ArchiveTarget

	for _, targetCfg := range cfg.GetEnabledArchiveTargets() {
		var stor domain.Storage
		var err error

		switch targetCfg.Type {
		case "local":
			stor, err = storage.NewLocal(targetCfg.Path)
			if err != nil {
				log.Errorf("Failed to initialize local archive: %v", err)
				continue
			}
			log.Infof("✓ Local archive enabled (%s)", targetCfg.Path)

		case "gdrive":
			stor, err = storage.NewGDrive(ctx, &targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive: %v", err)
				continue
			}
			log.Infof("✓ Google Drive archive enabled")

		case "s3":
			stor, err = storage.NewS3(ctx, &targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize S3: %v", err)
				continue
			}
			log.Infof("✓ AWS S3 archive enabled (bucket: %s)", targetCfg.Bucket)

		default:
			log.Warnf("Unknown archive target type: %s", targetCfg.Type)
			continue
		}

		targets = append(targets, usecase.ArchiveTarget{
			Name:    targetCfg.Label(),
			Storage: stor,
		})
	}

	return targets
}

func (a *App) handleBackupTask(ctx context.Context, task queue.Task) {
	res, err := a.executor.Execute(ctx, task.JobID)
	if err != nil {
		a.logger.Errorf("Task %s for job %d aborted: %v", task.ID, task.JobID, err)
		return
	}
	if res.Failed() {
		a.logger.Warnf("Task %s for job %d failed after %d attempt(s): %s", task.ID, task.JobID, res.Attempts, res.Error)
		return
	}
	a.logger.Infof("Task %s for job %d succeeded (%d bytes in %s)", task.ID, task.JobID, res.FileSize, res.Duration.Round(time.Second))
}

func (a *App) Logger() *logger.Logger {
	return a.logger
}

// Close releases the datastore, flushes traces and syncs the logger.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.tracing(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warnf("Failed to flush traces: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warnf("Failed to close datastore: %v", err)
	}
	a.logger.Close()
}
