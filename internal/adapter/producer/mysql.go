package producer

import (
	"context"
	"strconv"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/command"
)

// dumpMySQL runs mysqldump. The password is passed as -p<secret> since the
// tool has no uniform environment channel for it.
func (p *Producer) dumpMySQL(ctx context.Context, src domain.Source, workDir, base string) (*domain.Artifact, error) {
	p.logger.Infof("[%s] Starting MySQL backup", src.Name)

	var args []string
	if src.Host != "" {
		args = append(args, "-h", src.Host)
	}
	if src.Port != 0 {
		args = append(args, "-P", strconv.Itoa(src.Port))
	}
	if src.User != "" {
		args = append(args, "-u", src.User)
	}
	if src.Password != "" {
		args = append(args, "-p"+src.Password)
	}
	args = append(args,
		"--single-transaction",
		"--routines",
		"--triggers",
		"--add-drop-database",
		"--create-options",
		src.Database,
	)

	out := sqlPath(workDir, base)
	err := p.runDump(ctx, "MySQL", command.Cmd{
		Name:       p.cfg.MySQLDumpPath,
		Args:       args,
		StdoutPath: out,
		Timeout:    p.cfg.MySQLTimeout,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Infof("[%s] MySQL backup completed: %s", src.Name, out)
	return artifactFor(out, base, true)
}
