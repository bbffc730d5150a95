package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/semmidev/backupd/internal/config"
	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/usecase"
)

// Sweep runs one scheduler pass and waits for every triggered job to finish.
func (a *App) Sweep(ctx context.Context) (*usecase.SweepSummary, error) {
	a.queue.Start(ctx)

	summary, sweepErr := a.sweeper.Sweep(ctx)

	if err := a.queue.Stop(ctx); err != nil {
		a.logger.Warnf("Queue did not drain: %v", err)
	}
	return summary, sweepErr
}

// RunJob executes a job immediately. With retry the executor's policy
// applies, otherwise exactly one attempt is made.
func (a *App) RunJob(ctx context.Context, jobID int64, retry bool) (*usecase.RunResult, error) {
	if retry {
		return a.executor.Execute(ctx, jobID)
	}
	return a.pipeline.Run(ctx, jobID)
}

func (a *App) PreviewJob(ctx context.Context, jobID int64, count int, within time.Duration) (*usecase.ScheduleReport, error) {
	return a.preview.Preview(ctx, jobID, count, within)
}

func (a *App) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return a.store.ListJobs(ctx)
}

func (a *App) History(ctx context.Context, jobID int64, limit int) ([]domain.ExecutionRecord, error) {
	return a.store.ListExecutions(ctx, jobID, limit)
}

// Retention prunes execution records and archives. days <= 0 uses the
// configured value.
func (a *App) Retention(ctx context.Context, days int) (*usecase.RetentionResult, error) {
	return a.retention.Execute(ctx, days)
}

func (a *App) SyncCatalog(ctx context.Context) (*usecase.CatalogResult, error) {
	return a.catalog.Sync(ctx, catalogFromConfig(a.config.Catalog))
}

func catalogFromConfig(cfg config.CatalogConfig) usecase.Catalog {
	var cat usecase.Catalog
	for _, s := range cfg.Sources {
		cat.Sources = append(cat.Sources, s.Source())
	}
	for _, d := range cfg.Destinations {
		cat.Destinations = append(cat.Destinations, d.Destination())
	}
	for _, j := range cfg.Jobs {
		cat.Jobs = append(cat.Jobs, j.Job())
	}
	return cat
}

// TestDestination checks that the bot can reach the destination chat.
func (a *App) TestDestination(ctx context.Context, name string) (bool, string, error) {
	dest, err := a.store.GetDestinationByName(ctx, name)
	if err != nil {
		return false, "", err
	}
	ok, msg := a.channel.TestConnection(ctx, *dest)
	return ok, msg, nil
}

// SendToDestination posts a file when path is set, otherwise a text message.
func (a *App) SendToDestination(ctx context.Context, name, message, path string) error {
	dest, err := a.store.GetDestinationByName(ctx, name)
	if err != nil {
		return err
	}

	if path == "" {
		return a.channel.SendText(ctx, *dest, message)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot send %s: %w", path, err)
	}
	caption := message
	if caption == "" {
		caption = filepath.Base(path)
	}
	return a.channel.DeliverArtifact(ctx, *dest, path, caption)
}

// PingSource checks that a source is reachable without producing anything.
func (a *App) PingSource(ctx context.Context, name string) error {
	src, err := a.store.GetSourceByName(ctx, name)
	if err != nil {
		return err
	}
	return a.prober.Ping(ctx, *src)
}

// AuthorizeDrive runs the Google consent flow for the named gdrive target and
// blocks until the token file is written or ctx ends.
func (a *App) AuthorizeDrive(ctx context.Context, targetName, addr string) error {
	var target *config.ArchiveTarget
	for i := range a.config.Archive.Targets {
		t := &a.config.Archive.Targets[i]
		if t.Type == "gdrive" && (targetName == "" || t.Name == targetName) {
			target = t
			break
		}
	}
	if target == nil {
		return fmt.Errorf("gdrive target %q: %w", targetName, domain.ErrNotFound)
	}

	svc, err := NewGoogleOAuthService(a.logger, target.CredentialsFile, target.TokenFile)
	if err != nil {
		return err
	}

	svc.StartAuthServer(addr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			a.logger.Warnf("%v", err)
		}
	}()

	a.logger.Infof("Open this URL to authorize Google Drive access:\n%s", svc.AuthURL())

	select {
	case err := <-svc.Done():
		return err
	case <-ctx.Done():
		return errors.Join(errors.New("authorization aborted"), ctx.Err())
	}
}
