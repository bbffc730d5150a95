// Package probe checks that a source is reachable before it is backed up.
package probe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "modernc.org/sqlite"

	"github.com/semmidev/backupd/internal/domain"
)

const defaultTimeout = 10 * time.Second

type VolumeChecker interface {
	VolumeExists(ctx context.Context, name string) (bool, error)
}

type Prober struct {
	volumes VolumeChecker
	timeout time.Duration
}

// New builds a Prober. volumes may be nil when Docker is not available.
func New(volumes VolumeChecker) *Prober {
	return &Prober{volumes: volumes, timeout: defaultTimeout}
}

func (p *Prober) Ping(ctx context.Context, src domain.Source) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch src.Kind {
	case domain.SourceDatabase:
		switch src.Engine {
		case domain.EnginePostgreSQL:
			return pingPostgres(ctx, src)
		case domain.EngineMySQL:
			return pingMySQL(ctx, src)
		case domain.EngineSQLite:
			return pingSQLite(ctx, src)
		default:
			return fmt.Errorf("unsupported database type: %s", src.Engine)
		}
	case domain.SourceVolume:
		return p.pingVolume(ctx, src)
	default:
		return fmt.Errorf("unsupported source type: %s", src.Kind)
	}
}

func postgresURL(src domain.Source) string {
	host := src.Host
	if host == "" {
		host = "localhost"
	}
	port := src.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + src.Database,
		RawQuery: "connect_timeout=10",
	}
	if src.User != "" {
		u.User = url.UserPassword(src.User, src.Password)
	}
	return u.String()
}

func pingPostgres(ctx context.Context, src domain.Source) error {
	conn, err := pgx.Connect(ctx, postgresURL(src))
	if err != nil {
		return fmt.Errorf("postgresql connect failed: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

func mysqlConfig(src domain.Source) *mysql.Config {
	host := src.Host
	if host == "" {
		host = "localhost"
	}
	port := src.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = src.User
	cfg.Passwd = src.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = src.Database
	cfg.Timeout = defaultTimeout
	return cfg
}

func pingMySQL(ctx context.Context, src domain.Source) error {
	connector, err := mysql.NewConnector(mysqlConfig(src))
	if err != nil {
		return fmt.Errorf("mysql config invalid: %w", err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}

func pingSQLite(ctx context.Context, src domain.Source) error {
	path := src.SQLitePath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("SQLite database file not found: %s", path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("sqlite open failed: %w", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("sqlite read failed: %w", err)
	}
	return nil
}

func (p *Prober) pingVolume(ctx context.Context, src domain.Source) error {
	if p.volumes == nil {
		return errors.New("container runtime is not configured")
	}
	ok, err := p.volumes.VolumeExists(ctx, src.Volume)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Docker volume '%s' not found", src.Volume)
	}
	return nil
}
