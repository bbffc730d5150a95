package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/semmidev/backupd/internal/domain"
)

const DefaultExecutionLogDays = 30

var filenameTimestamp = regexp.MustCompile(`(\d{8})_(\d{6})`)

type RetentionConfig struct {
	ExecutionLogDays int
	// ArchiveDays prunes archive mirrors; zero keeps everything.
	ArchiveDays int
}

type RetentionResult struct {
	DeletedCount   int64          `json:"deleted_count"`
	Cutoff         time.Time      `json:"cutoff_date"`
	DaysKept       int            `json:"days_kept"`
	ArchiveDeleted int64          `json:"archive_deleted"`
	Archives       []ArchivePrune `json:"archives,omitempty"`
}

// ArchivePrune reports one archive target. Error is set when the target
// could not be listed; individual delete failures only lower Deleted.
type ArchivePrune struct {
	Target  string `json:"target"`
	Stale   int    `json:"stale"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

type Retention struct {
	execs   domain.ExecutionRepository
	targets []ArchiveTarget
	cfg     RetentionConfig
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

func NewRetention(
	execs domain.ExecutionRepository,
	targets []ArchiveTarget,
	cfg RetentionConfig,
	logger Logger,
	metrics Metrics,
) *Retention {
	if cfg.ExecutionLogDays <= 0 {
		cfg.ExecutionLogDays = DefaultExecutionLogDays
	}
	return &Retention{
		execs:   execs,
		targets: targets,
		cfg:     cfg,
		logger:  logger,
		metrics: metricsOrNop(metrics),
		now:     time.Now,
	}
}

// Execute deletes execution records older than days (the configured horizon
// when days is not positive), then prunes the archive mirrors.
func (uc *Retention) Execute(ctx context.Context, days int) (*RetentionResult, error) {
	if days <= 0 {
		days = uc.cfg.ExecutionLogDays
	}

	now := uc.now()
	cutoff := now.AddDate(0, 0, -days)
	uc.logger.Infof("Starting cleanup, retention: %d days", days)

	deleted, err := uc.execs.DeleteExecutionsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete execution logs: %w", err)
	}
	uc.metrics.ObserveRetention(deleted)
	uc.logger.Infof("Cleaned up %d execution logs older than %d days", deleted, days)

	res := &RetentionResult{DeletedCount: deleted, Cutoff: cutoff, DaysKept: days}

	if uc.cfg.ArchiveDays > 0 && len(uc.targets) > 0 {
		res.Archives = uc.pruneArchives(ctx, now.AddDate(0, 0, -uc.cfg.ArchiveDays))
		for _, a := range res.Archives {
			res.ArchiveDeleted += int64(a.Deleted)
		}
	}

	uc.logger.Infof("Cleanup completed")
	return res, nil
}

// pruneArchives prunes every target concurrently. Each goroutine owns its
// slot in the returned slice.
func (uc *Retention) pruneArchives(ctx context.Context, cutoff time.Time) []ArchivePrune {
	reports := make([]ArchivePrune, len(uc.targets))

	var wg sync.WaitGroup
	for i, target := range uc.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = uc.pruneArchive(ctx, target, cutoff)
		}()
	}
	wg.Wait()

	return reports
}

func (uc *Retention) pruneArchive(ctx context.Context, target ArchiveTarget, cutoff time.Time) ArchivePrune {
	report := ArchivePrune{Target: target.Name}

	stale, err := uc.staleFiles(ctx, target, cutoff)
	if err != nil {
		uc.logger.Errorf("Archive pruning failed for %s: %v", target.Name, err)
		report.Error = err.Error()
		return report
	}
	report.Stale = len(stale)

	for _, name := range stale {
		if err := target.Storage.Delete(ctx, name); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", name, target.Name, err)
			continue
		}
		uc.logger.Debugf("Deleted old backup %s from %s", name, target.Name)
		report.Deleted++
	}

	uc.logger.Infof("Pruned %d/%d old backup(s) from %s", report.Deleted, report.Stale, target.Name)
	return report
}

// staleFiles asks the target for files older than cutoff. Targets that
// cannot filter by date are listed in full and judged by the timestamp in
// each artifact name.
func (uc *Retention) staleFiles(ctx context.Context, target ArchiveTarget, cutoff time.Time) ([]string, error) {
	stale, err := target.Storage.GetOldFiles(ctx, cutoff)
	if err == nil {
		return stale, nil
	}
	uc.logger.Warnf("Date listing on %s failed, using file names: %v", target.Name, err)

	names, err := target.Storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return olderByName(names, cutoff), nil
}

// olderByName keeps the names whose embedded stamp is before cutoff. Names
// without a stamp are never pruned.
func olderByName(names []string, cutoff time.Time) []string {
	var stale []string
	for _, name := range names {
		if ts, err := extractTimestamp(name, cutoff.Location()); err == nil && ts.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	return stale
}

// extractTimestamp reads the YYYYMMDD_HHMMSS stamp embedded in artifact names.
func extractTimestamp(filename string, loc *time.Location) (time.Time, error) {
	matches := filenameTimestamp.FindStringSubmatch(filename)
	if len(matches) < 3 {
		return time.Time{}, fmt.Errorf("invalid filename format: no timestamp found")
	}

	return time.ParseInLocation("20060102_150405", matches[1]+"_"+matches[2], loc)
}
