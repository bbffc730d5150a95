package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Infof(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Errorf(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func TestScheduler(t *testing.T) {
	Convey("Given a Scheduler", t, func() {
		log := &recordingLogger{}

		Convey("New function", func() {
			scheduler := New(nil, log)

			Convey("It should create a new scheduler successfully", func() {
				So(scheduler, ShouldNotBeNil)
				So(scheduler.cron, ShouldNotBeNil)
				So(scheduler.cron.Location(), ShouldEqual, time.Local)
			})

			Convey("It should honour an explicit location", func() {
				loc := time.FixedZone("UTC+7", 7*3600)
				So(New(loc, log).cron.Location(), ShouldEqual, loc)
			})
		})

		Convey("AddJob function", func() {
			scheduler := New(time.UTC, log)

			Convey("When adding a job with a valid cron spec", func() {
				tempDir, err := os.MkdirTemp("", "scheduler_test")
				So(err, ShouldBeNil)
				defer os.RemoveAll(tempDir)

				logFile := filepath.Join(tempDir, "job.log")
				job := func(ctx context.Context) error {
					return os.WriteFile(logFile, []byte("executed"), 0644)
				}

				err = scheduler.AddJob("tick", "* * * * * *", job)

				Convey("It should add the job successfully", func() {
					So(err, ShouldBeNil)

					scheduler.Start()
					time.Sleep(2 * time.Second)
					scheduler.Stop()

					content, err := os.ReadFile(logFile)
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "executed")
				})
			})

			Convey("When the job returns an error", func() {
				err := scheduler.AddJob("tick", "* * * * * *", func(ctx context.Context) error {
					return errors.New("datastore unreachable")
				})
				So(err, ShouldBeNil)

				Convey("It should log the failure", func() {
					scheduler.Start()
					time.Sleep(2 * time.Second)
					scheduler.Stop()

					So(log.errorCount(), ShouldBeGreaterThan, 0)
				})
			})

			Convey("When adding a job with an invalid cron spec", func() {
				err := scheduler.AddJob("tick", "invalid spec", func(ctx context.Context) error { return nil })

				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "expected exactly 6 fields")
				})
			})

			Convey("When adding an @every descriptor", func() {
				err := scheduler.AddJob("tick", "@every 60s", func(ctx context.Context) error { return nil })

				Convey("It should be accepted", func() {
					So(err, ShouldBeNil)
				})
			})
		})

		Convey("Start and Stop methods", func() {
			scheduler := New(time.UTC, log)

			Convey("When stopping while a job is running", func() {
				cancelled := make(chan struct{})
				err := scheduler.AddJob("slow", "* * * * * *", func(ctx context.Context) error {
					<-ctx.Done()
					select {
					case <-cancelled:
					default:
						close(cancelled)
					}
					return ctx.Err()
				})
				So(err, ShouldBeNil)

				Convey("It should cancel the job context and wait", func() {
					scheduler.Start()
					time.Sleep(1500 * time.Millisecond)
					So(func() { scheduler.Stop() }, ShouldNotPanic)

					select {
					case <-cancelled:
					case <-time.After(time.Second):
						t.Fatal("job context was not cancelled")
					}
				})
			})

			Convey("When starting and stopping the scheduler", func() {
				tempDir, err := os.MkdirTemp("", "scheduler_test")
				So(err, ShouldBeNil)
				defer os.RemoveAll(tempDir)

				logFile := filepath.Join(tempDir, "job.log")
				err = scheduler.AddJob("tick", "* * * * * *", func(ctx context.Context) error {
					return os.WriteFile(logFile, []byte("executed"), 0644)
				})
				So(err, ShouldBeNil)

				Convey("It should not run after Stop", func() {
					So(func() { scheduler.Start() }, ShouldNotPanic)
					time.Sleep(2 * time.Second)

					_, err := os.Stat(logFile)
					So(err, ShouldBeNil)

					So(func() { scheduler.Stop() }, ShouldNotPanic)

					os.Remove(logFile)
					time.Sleep(2 * time.Second)
					_, err = os.Stat(logFile)
					So(os.IsNotExist(err), ShouldBeTrue)
				})
			})
		})
	})
}
