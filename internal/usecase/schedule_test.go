package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/backupd/internal/domain"
)

func TestSchedulePreview(t *testing.T) {
	Convey("Given a schedule preview", t, func() {
		ctx := context.Background()
		now := time.Date(2024, 5, 10, 0, 30, 0, 0, time.UTC)
		inactive := pgJob(3, "*/30 * * * *")
		inactive.IsActive = false
		store := newMemStore(pgJob(1, "0 2 * * *"), pgJob(2, "61 * * * *"), inactive)

		p := NewSchedulePreview(store, time.UTC)
		p.now = func() time.Time { return now }

		Convey("A daily job should have one run in the next day", func() {
			report, err := p.Preview(ctx, 1, 0, 0)
			So(err, ShouldBeNil)
			So(report.Valid, ShouldBeTrue)
			So(report.Schedule, ShouldEqual, "0 2 * * *")
			So(len(report.NextRuns), ShouldEqual, 1)
			So(report.NextRuns[0].Equal(time.Date(2024, 5, 10, 2, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("Inactive jobs should still be previewed and capped by count", func() {
			report, err := p.Preview(ctx, 3, 3, time.Hour*24)
			So(err, ShouldBeNil)
			So(len(report.NextRuns), ShouldEqual, 3)
			So(report.NextRuns[2].Equal(time.Date(2024, 5, 10, 2, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("A malformed schedule should yield an invalid report", func() {
			report, err := p.Preview(ctx, 2, 0, 0)
			So(err, ShouldBeNil)
			So(report.Valid, ShouldBeFalse)
			So(report.Error, ShouldContainSubstring, "invalid cron expression")
			So(report.NextRuns, ShouldBeEmpty)
		})

		Convey("A missing job should be an error", func() {
			_, err := p.Preview(ctx, 99, 0, 0)
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
		})
	})
}
