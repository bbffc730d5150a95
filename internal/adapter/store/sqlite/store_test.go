package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/backupd/internal/domain"
)

func seedJob(ctx context.Context, s *Store, name string, active bool) *domain.Job {
	src := &domain.Source{Name: name + "-db", Kind: domain.SourceDatabase, Engine: domain.EnginePostgreSQL, Host: "db", Port: 5432, Database: "app", User: "u", Password: "p"}
	So(s.UpsertSource(ctx, src), ShouldBeNil)
	dst := &domain.Destination{Name: name + "-chat", BotToken: "123:abc", ChatID: "-100"}
	So(s.UpsertDestination(ctx, dst), ShouldBeNil)

	job := &domain.Job{
		Name:         name,
		Source:       domain.Source{Name: src.Name},
		Destination:  domain.Destination{Name: dst.Name},
		Schedule:     "0 2 * * *",
		OutputFormat: domain.FormatTarGz,
		IsActive:     active,
	}
	So(s.UpsertJob(ctx, job), ShouldBeNil)
	return job
}

func TestStore(t *testing.T) {
	Convey("Given a SQLite store", t, func() {
		ctx := context.Background()
		s, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "state", "backupd.db")})
		So(err, ShouldBeNil)
		defer s.Close()

		So(s.Ping(ctx), ShouldBeNil)

		Convey("Catalog upserts should be keyed by name", func() {
			job := seedJob(ctx, s, "nightly", true)
			firstID := job.ID

			job.Schedule = "30 3 * * *"
			job.Source = domain.Source{Name: "nightly-db"}
			job.Destination = domain.Destination{Name: "nightly-chat"}
			So(s.UpsertJob(ctx, job), ShouldBeNil)

			So(job.ID, ShouldEqual, firstID)
			loaded, err := s.GetJob(ctx, firstID)
			So(err, ShouldBeNil)
			So(loaded.Schedule, ShouldEqual, "30 3 * * *")
			So(loaded.Source.Engine, ShouldEqual, domain.EnginePostgreSQL)
			So(loaded.Source.Port, ShouldEqual, 5432)
			So(loaded.Destination.ChatID, ShouldEqual, "-100")
			So(loaded.OutputFormat, ShouldEqual, domain.FormatTarGz)
		})

		Convey("A job referencing an unknown source should be rejected", func() {
			err := s.UpsertJob(ctx, &domain.Job{Name: "orphan", Source: domain.Source{Name: "ghost"}, Destination: domain.Destination{Name: "x"}, Schedule: "* * * * *"})
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})

		Convey("Active filters should exclude inactive jobs", func() {
			active := seedJob(ctx, s, "active", true)
			inactive := seedJob(ctx, s, "paused", false)

			_, err := s.GetActiveJob(ctx, inactive.ID)
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)

			got, err := s.GetActiveJob(ctx, active.ID)
			So(err, ShouldBeNil)
			So(got.Name, ShouldEqual, "active")

			jobs, err := s.ListActiveJobs(ctx)
			So(err, ShouldBeNil)
			So(jobs, ShouldHaveLength, 1)

			all, err := s.ListJobs(ctx)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 2)

			_, err = s.GetJob(ctx, 9999)
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})

		Convey("Execution records should be created then finalized", func() {
			job := seedJob(ctx, s, "nightly", true)
			created := time.Date(2025, 3, 14, 2, 1, 0, 0, time.UTC)

			rec := &domain.ExecutionRecord{JobID: job.ID, Status: domain.StatusFailed, Details: "Backup job started", CreatedAt: created}
			So(s.CreateExecution(ctx, rec), ShouldBeNil)
			So(rec.ID, ShouldBeGreaterThan, 0)

			size := int64(2048)
			rec.Status = domain.StatusSuccess
			rec.Details = "done"
			rec.FileSize = &size
			So(s.UpdateExecution(ctx, rec), ShouldBeNil)

			list, err := s.ListExecutions(ctx, job.ID, 10)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 1)
			So(list[0].Status, ShouldEqual, domain.StatusSuccess)
			So(*list[0].FileSize, ShouldEqual, 2048)
			So(list[0].CreatedAt.Equal(created), ShouldBeTrue)

			missing := &domain.ExecutionRecord{ID: 424242, Status: domain.StatusFailed}
			So(errors.Is(s.UpdateExecution(ctx, missing), domain.ErrNotFound), ShouldBeTrue)
		})

		Convey("Recent executions should be counted within the window", func() {
			job := seedJob(ctx, s, "nightly", true)
			now := time.Date(2025, 3, 14, 2, 1, 0, 0, time.UTC)

			So(s.CreateExecution(ctx, &domain.ExecutionRecord{JobID: job.ID, Status: domain.StatusFailed, CreatedAt: now.Add(-30 * time.Second)}), ShouldBeNil)
			So(s.CreateExecution(ctx, &domain.ExecutionRecord{JobID: job.ID, Status: domain.StatusSuccess, CreatedAt: now.Add(-10 * time.Minute)}), ShouldBeNil)

			n, err := s.CountExecutionsSince(ctx, job.ID, now.Add(-2*time.Minute))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			n, err = s.CountExecutionsSince(ctx, job.ID+1, now.Add(-2*time.Minute))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("Deleting before a cutoff should leave newer records", func() {
			job := seedJob(ctx, s, "nightly", true)
			now := time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC)
			cutoff := now.AddDate(0, 0, -30)

			for _, age := range []time.Duration{45 * 24 * time.Hour, 31 * 24 * time.Hour, 29 * 24 * time.Hour, time.Hour} {
				So(s.CreateExecution(ctx, &domain.ExecutionRecord{JobID: job.ID, Status: domain.StatusSuccess, CreatedAt: now.Add(-age)}), ShouldBeNil)
			}

			deleted, err := s.DeleteExecutionsBefore(ctx, cutoff)
			So(err, ShouldBeNil)
			So(deleted, ShouldEqual, 2)

			left, err := s.ListExecutions(ctx, job.ID, 10)
			So(err, ShouldBeNil)
			So(left, ShouldHaveLength, 2)
			for _, rec := range left {
				So(rec.CreatedAt.Before(cutoff), ShouldBeFalse)
			}
		})
	})
}
