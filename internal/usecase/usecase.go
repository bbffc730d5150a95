package usecase

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/semmidev/backupd/internal/domain"
)

// TaskExecuteBackup is the queue task name that runs one job through the
// pipeline.
const TaskExecuteBackup = "execute_backup_job"

var tracer = otel.Tracer("github.com/semmidev/backupd/internal/usecase")

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Metrics is satisfied by *metrics.Metrics. A nil *metrics.Metrics is a valid
// no-op implementation.
type Metrics interface {
	ObserveSweep(checked, triggered, errors int)
	ObserveRun(status, kind string, d time.Duration, size int64)
	ObserveRetry()
	ObserveFailureNotification(ok bool)
	ObserveRetention(deleted int64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSweep(int, int, int)                      {}
func (nopMetrics) ObserveRun(string, string, time.Duration, int64) {}
func (nopMetrics) ObserveRetry()                                   {}
func (nopMetrics) ObserveFailureNotification(bool)                 {}
func (nopMetrics) ObserveRetention(int64)                          {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// ArchiveTarget is a named archive mirror that receives a copy of every
// packaged artifact.
type ArchiveTarget struct {
	Name    string
	Storage domain.Storage
}
