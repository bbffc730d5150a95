// Package producer creates raw backup artifacts from sources: database dumps
// through the engines' native tools and volume snapshots through a
// container runtime.
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/command"
)

const timestampLayout = "20060102_150405"

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// VolumeRuntime is the container runtime used to snapshot named volumes.
// A helper mounts the volume read-only at /data.
type VolumeRuntime interface {
	VolumeExists(ctx context.Context, name string) (bool, error)
	StartHelper(ctx context.Context, volume string) (id string, err error)
	ExportPath(ctx context.Context, id, path string, w io.Writer) error
	RemoveHelper(ctx context.Context, id string) error
}

type Config struct {
	PgDumpPath      string
	MySQLDumpPath   string
	SQLite3Path     string
	PostgresTimeout time.Duration
	MySQLTimeout    time.Duration
	SQLiteTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.PgDumpPath == "" {
		c.PgDumpPath = "pg_dump"
	}
	if c.MySQLDumpPath == "" {
		c.MySQLDumpPath = "mysqldump"
	}
	if c.SQLite3Path == "" {
		c.SQLite3Path = "sqlite3"
	}
	if c.PostgresTimeout <= 0 {
		c.PostgresTimeout = time.Hour
	}
	if c.MySQLTimeout <= 0 {
		c.MySQLTimeout = time.Hour
	}
	if c.SQLiteTimeout <= 0 {
		c.SQLiteTimeout = 30 * time.Minute
	}
}

type Producer struct {
	cfg     Config
	runner  command.Runner
	runtime VolumeRuntime
	logger  Logger
	now     func() time.Time
}

// New builds a Producer. runtime may be nil when no volume sources are
// configured; volume backups then fail with a ProducerError.
func New(cfg Config, runner command.Runner, runtime VolumeRuntime, logger Logger) *Producer {
	cfg.setDefaults()
	return &Producer{
		cfg:     cfg,
		runner:  runner,
		runtime: runtime,
		logger:  logger,
		now:     time.Now,
	}
}

// Produce writes a raw artifact for src into workDir. Every failure is a
// *domain.ProducerError.
func (p *Producer) Produce(ctx context.Context, src domain.Source, format domain.OutputFormat, workDir string) (*domain.Artifact, error) {
	base := fmt.Sprintf("%s_%s_%s", src.Name, p.artifactTag(src), p.now().Format(timestampLayout))

	switch src.Kind {
	case domain.SourceDatabase:
		switch src.Engine {
		case domain.EnginePostgreSQL:
			return p.dumpPostgreSQL(ctx, src, workDir, base)
		case domain.EngineMySQL:
			return p.dumpMySQL(ctx, src, workDir, base)
		case domain.EngineSQLite:
			return p.dumpSQLite(ctx, src, format, workDir, base)
		default:
			return nil, domain.NewProducerError(nil, "Unsupported database type: %s", src.Engine)
		}
	case domain.SourceVolume:
		return p.snapshotVolume(ctx, src, workDir, base)
	default:
		return nil, domain.NewProducerError(nil, "Unsupported source type: %s", src.Kind)
	}
}

func (p *Producer) artifactTag(src domain.Source) string {
	if src.Kind == domain.SourceVolume {
		return "volume"
	}
	return string(src.Engine)
}

// runDump runs a dump tool and converts its failure into a ProducerError
// labelled with the engine.
func (p *Producer) runDump(ctx context.Context, label string, cmd command.Cmd) error {
	err := p.runner.Run(ctx, cmd)
	if err == nil {
		return nil
	}

	var timeoutErr *command.TimeoutError
	var exitErr *command.ExitError
	switch {
	case errors.As(err, &timeoutErr):
		return domain.NewProducerError(err, "%s backup timed out", label)
	case errors.As(err, &exitErr):
		return domain.NewProducerError(err, "%s failed: %s", filepath.Base(cmd.Name), exitErr.Stderr)
	default:
		return domain.NewProducerError(err, "%s backup failed: %v", label, err)
	}
}

func artifactFor(path, base string, plainSQL bool) (*domain.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.NewProducerError(err, "backup output missing: %v", err)
	}
	return &domain.Artifact{
		Path:     path,
		BaseName: base,
		Size:     info.Size(),
		PlainSQL: plainSQL,
	}, nil
}

func sqlPath(workDir, base string) string {
	return filepath.Join(workDir, base+".sql")
}
