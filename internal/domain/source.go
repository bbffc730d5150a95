package domain

import "fmt"

type SourceKind string

const (
	SourceDatabase SourceKind = "database"
	SourceVolume   SourceKind = "volume"
)

type Engine string

const (
	EnginePostgreSQL Engine = "postgresql"
	EngineMySQL      Engine = "mysql"
	EngineSQLite     Engine = "sqlite"
)

// Label returns the display name used in notifications.
func (e Engine) Label() string {
	switch e {
	case EnginePostgreSQL:
		return "PostgreSQL"
	case EngineMySQL:
		return "MySQL/MariaDB"
	case EngineSQLite:
		return "SQLite"
	default:
		return string(e)
	}
}

// Source is the origin of a backup: a database connection or a named volume.
// For SQLite sources the file path is taken from Host when set, otherwise
// from Database.
type Source struct {
	ID       int64
	Name     string
	Kind     SourceKind
	Engine   Engine
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Volume   string
}

// TypeLabel describes the source for humans, e.g. "Database (PostgreSQL)".
func (s Source) TypeLabel() string {
	switch s.Kind {
	case SourceDatabase:
		if s.Engine != "" {
			return fmt.Sprintf("Database (%s)", s.Engine.Label())
		}
		return "Database"
	case SourceVolume:
		return "Volume"
	default:
		return string(s.Kind)
	}
}

// SQLitePath resolves the database file of a SQLite source.
func (s Source) SQLitePath() string {
	if s.Host != "" {
		return s.Host
	}
	return s.Database
}

func (s Source) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.TypeLabel())
}
