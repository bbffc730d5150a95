package main

import (
	"bytes"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/usecase"
)

func TestParseJobID(t *testing.T) {
	Convey("parseJobID", t, func() {
		id, err := parseJobID("42")
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 42)

		for _, bad := range []string{"", "abc", "0", "-3"} {
			_, err := parseJobID(bad)
			So(err, ShouldNotBeNil)
		}
	})
}

func TestRendering(t *testing.T) {
	Convey("Given rendered command output", t, func() {
		var buf bytes.Buffer

		Convey("A sweep summary lists triggered jobs and errors", func() {
			printSweep(&buf, &usecase.SweepSummary{
				CheckedJobs:   2,
				TriggeredJobs: 1,
				Triggered:     []usecase.TriggeredJob{{JobID: 7, JobName: "nightly", Schedule: "0 2 * * *", TaskID: "t-1"}},
				Errors:        []string{"Invalid cron for job 9"},
			})
			So(buf.String(), ShouldContainSubstring, "Checked jobs: 2")
			So(buf.String(), ShouldContainSubstring, "  - Job 7: nightly")
			So(buf.String(), ShouldContainSubstring, "Task ID: t-1")
			So(buf.String(), ShouldContainSubstring, "  - Invalid cron for job 9")
		})

		Convey("A failed run shows the error and exhausted retries", func() {
			printRun(&buf, &usecase.RunResult{
				Status:           domain.StatusFailed,
				Error:            "unexpected-error:boom",
				Attempts:         4,
				RetriesExhausted: true,
			})
			So(buf.String(), ShouldContainSubstring, "❌ Job failed: unexpected-error:boom")
			So(buf.String(), ShouldContainSubstring, "after 4 attempt(s)")
		})

		Convey("A successful run shows duration and size", func() {
			printRun(&buf, &usecase.RunResult{Status: domain.StatusSuccess, Duration: 1500 * time.Millisecond, FileSize: 2048})
			So(buf.String(), ShouldContainSubstring, "in 1.5s")
			So(buf.String(), ShouldContainSubstring, "File size: 2048 bytes")
		})

		Convey("JSON output goes through the encoder", func() {
			opts := &rootOptions{jsonOutput: true}
			err := opts.render(&buf, &usecase.RunResult{JobID: 3, Status: domain.StatusSuccess, Duration: 2 * time.Second}, nil)
			So(err, ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `"job_id": 3`)
			So(buf.String(), ShouldContainSubstring, `"duration": 2`)
		})

		Convey("Jobs are listed with their status", func() {
			printJobs(&buf, []domain.Job{{
				ID:           1,
				Source:       domain.Source{Name: "app-db", Kind: domain.SourceDatabase, Engine: domain.EnginePostgreSQL},
				Destination:  domain.Destination{Name: "ops"},
				Schedule:     "*/5 * * * *",
				OutputFormat: domain.FormatTarGz,
				IsActive:     true,
			}})
			So(buf.String(), ShouldContainSubstring, "Found 1 backup jobs:")
			So(buf.String(), ShouldContainSubstring, "Source: app-db (Database (PostgreSQL))")
			So(buf.String(), ShouldContainSubstring, "🟢 Active")
		})

		Convey("An invalid schedule report says so", func() {
			printSchedule(&buf, &usecase.ScheduleReport{Valid: false, Error: "bad field"})
			So(buf.String(), ShouldContainSubstring, "❌ Invalid cron: bad field")
		})
	})
}

func TestRootCommand(t *testing.T) {
	Convey("The root command registers every subcommand", t, func() {
		root := newRootCmd()
		for _, name := range []string{"serve", "sweep", "run", "schedule", "jobs", "history", "retention", "destination", "source", "catalog", "gdrive-auth", "version"} {
			cmd, _, err := root.Find([]string{name})
			So(err, ShouldBeNil)
			So(cmd.Name(), ShouldEqual, name)
		}

		Convey("version prints without loading a config", func() {
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"version"})
			So(root.Execute(), ShouldBeNil)
			So(out.String(), ShouldStartWith, "backupd ")
		})
	})
}
