package producer

import (
	"context"
	"strconv"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/command"
)

// dumpPostgreSQL runs pg_dump in plain format. The password travels in
// PGPASSWORD, never on the command line.
func (p *Producer) dumpPostgreSQL(ctx context.Context, src domain.Source, workDir, base string) (*domain.Artifact, error) {
	p.logger.Infof("[%s] Starting PostgreSQL backup", src.Name)

	var args []string
	if src.Host != "" {
		args = append(args, "-h", src.Host)
	}
	if src.Port != 0 {
		args = append(args, "-p", strconv.Itoa(src.Port))
	}
	if src.User != "" {
		args = append(args, "-U", src.User)
	}
	args = append(args,
		"--no-password",
		"--verbose",
		"--clean",
		"--if-exists",
		"--create",
		src.Database,
	)

	var env []string
	if src.Password != "" {
		env = append(env, "PGPASSWORD="+src.Password)
	}

	out := sqlPath(workDir, base)
	err := p.runDump(ctx, "PostgreSQL", command.Cmd{
		Name:       p.cfg.PgDumpPath,
		Args:       args,
		Env:        env,
		StdoutPath: out,
		Timeout:    p.cfg.PostgresTimeout,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Infof("[%s] PostgreSQL backup completed: %s", src.Name, out)
	return artifactFor(out, base, true)
}
