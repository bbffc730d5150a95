package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/command"
)

// dumpSQLite emits a .dump script when plain SQL is requested and otherwise
// copies the database file for packaging.
func (p *Producer) dumpSQLite(ctx context.Context, src domain.Source, format domain.OutputFormat, workDir, base string) (*domain.Artifact, error) {
	p.logger.Infof("[%s] Starting SQLite backup", src.Name)

	dbPath := src.SQLitePath()
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewProducerError(err, "SQLite database file not found: %s", dbPath)
		}
		return nil, domain.NewProducerError(err, "SQLite backup failed: %v", err)
	}

	if format == domain.FormatSQL {
		out := sqlPath(workDir, base)
		err := p.runDump(ctx, "SQLite", command.Cmd{
			Name:       p.cfg.SQLite3Path,
			Args:       []string{dbPath, ".dump"},
			StdoutPath: out,
			Timeout:    p.cfg.SQLiteTimeout,
		})
		if err != nil {
			return nil, err
		}
		p.logger.Infof("[%s] SQLite backup completed: %s", src.Name, out)
		return artifactFor(out, base, true)
	}

	out := filepath.Join(workDir, fmt.Sprintf("%s_%s", base, filepath.Base(dbPath)))
	if err := copyFile(dbPath, out); err != nil {
		return nil, domain.NewProducerError(err, "SQLite backup failed: %v", err)
	}

	p.logger.Infof("[%s] SQLite backup completed: %s", src.Name, out)
	return artifactFor(out, base, false)
}

// copyFile copies src to dst keeping its mode and modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open database file: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat database file: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy database file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close backup file: %w", err)
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
