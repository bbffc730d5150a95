package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/semmidev/backupd/internal/config"
	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/httpserver"
	"github.com/semmidev/backupd/internal/infrastructure/scheduler"
	"github.com/semmidev/backupd/internal/usecase"
)

const defaultDrainTimeout = 30 * time.Minute

// Serve runs the daemon: catalog sync, the sweep and retention ticks, the
// worker pool and the ops HTTP surface. It returns after ctx is cancelled and
// in-flight backups have drained.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Infof("Starting %s", a.config.App.Name)

	if len(a.config.Catalog.Jobs) > 0 || len(a.config.Catalog.Sources) > 0 || len(a.config.Catalog.Destinations) > 0 {
		res, err := a.SyncCatalog(ctx)
		if err != nil {
			return fmt.Errorf("catalog sync failed: %w", err)
		}
		a.logger.Infof("✓ Catalog synced: %d source(s), %d destination(s), %d job(s)", res.Sources, res.Destinations, res.Jobs)
	}

	sched := scheduler.New(a.location, a.logger)
	if err := sched.AddJob("sweep", a.config.Scheduler.Tick, func(ctx context.Context) error {
		_, err := a.sweeper.Sweep(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("invalid sweep tick %q: %w", a.config.Scheduler.Tick, err)
	}
	if err := sched.AddJob("retention", a.config.Scheduler.RetentionSchedule, func(ctx context.Context) error {
		_, err := a.retention.Execute(ctx, 0)
		return err
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", a.config.Scheduler.RetentionSchedule, err)
	}
	stopWorkers := a.startWorkers(ctx)
	sched.Start()
	a.logger.Infof("✓ Sweeping on %q, retention on %q (%s)", a.config.Scheduler.Tick, a.config.Scheduler.RetentionSchedule, a.location)

	if a.configPath != "" {
		if err := config.Watch(a.configPath, a.applyConfig, func(err error) {
			a.logger.Warnf("Ignoring invalid config change: %v", err)
		}); err != nil {
			a.logger.Warnf("Config hot reload disabled: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.config.Observability.HTTPAddr; addr != "" {
		srv := httpserver.New(httpserver.Config{Addr: addr, APIToken: a.config.Observability.APIToken}, a.store, jobAPI{a}, a.metrics.Handler(), a.logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.logger.Warnf("systemd notify failed: %v", err)
	} else if sent {
		a.logger.Debugf("systemd notified ready")
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	a.logger.Infof("Shutting down...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sched.Stop()
	stopWorkers()

	a.logger.Infof("Application stopped")
	return err
}

// startWorkers runs the pool on a context detached from ctx, so a shutdown
// signal lets in-flight backups finish. The returned stop drains the queue
// and cancels the workers only once drainTimeout has passed.
func (a *App) startWorkers(ctx context.Context) (stop func()) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.queue.Start(workerCtx)

	return func() {
		defer cancel()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), a.drainTimeout)
		defer drainCancel()
		if err := a.queue.Stop(drainCtx); err != nil {
			a.logger.Errorf("Worker pool did not drain, cancelling in-flight backups: %v", err)
		}
	}
}

// applyConfig hot-applies the settings that are safe to change at runtime.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg.App.LogLevel != a.logger.Level() {
		a.logger.SetLevel(cfg.App.LogLevel)
		a.logger.Infof("Log level changed to %s", cfg.App.LogLevel)
	}
}

// jobAPI exposes the engine to the ops HTTP server.
type jobAPI struct {
	app *App
}

func (j jobAPI) TriggerJob(ctx context.Context, jobID int64) (string, error) {
	if _, err := j.app.store.GetActiveJob(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("job %d: %w", jobID, domain.ErrJobNotFoundOrInactive)
		}
		return "", err
	}
	return j.app.queue.Enqueue(ctx, usecase.TaskExecuteBackup, jobID)
}

func (j jobAPI) PreviewJob(ctx context.Context, jobID int64, count int, within time.Duration) (any, error) {
	return j.app.preview.Preview(ctx, jobID, count, within)
}
