package domain

import (
	"fmt"
	"time"
)

type OutputFormat string

const (
	FormatSQL   OutputFormat = "sql"
	FormatTarGz OutputFormat = "tar.gz"
)

func (f OutputFormat) Valid() bool {
	return f == FormatSQL || f == FormatTarGz
}

// Job pairs a source with a destination under a 5-field cron schedule.
// Jobs are owned by the datastore; the engine only reads them.
type Job struct {
	ID           int64
	Name         string
	Source       Source
	Destination  Destination
	Schedule     string
	OutputFormat OutputFormat
	IsActive     bool
	CreatedAt    time.Time
}

func (j Job) String() string {
	return fmt.Sprintf("%s → %s", j.Source.Name, j.Destination.Name)
}
