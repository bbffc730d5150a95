package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/queue"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeJobs struct {
	triggerErr error
	triggered  []int64
	count      int
	within     time.Duration
}

func (f *fakeJobs) TriggerJob(_ context.Context, jobID int64) (string, error) {
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	f.triggered = append(f.triggered, jobID)
	return fmt.Sprintf("task-%d", jobID), nil
}

func (f *fakeJobs) PreviewJob(_ context.Context, jobID int64, count int, within time.Duration) (any, error) {
	if jobID == 404 {
		return nil, domain.ErrNotFound
	}
	f.count, f.within = count, within
	return map[string]any{"job_id": jobID, "valid": true}, nil
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer(t *testing.T) {
	Convey("Given the ops HTTP server", t, func() {
		jobs := &fakeJobs{}
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("backupd_sweeps_total 1\n"))
		})
		h := New(Config{}, fakePinger{}, jobs, metrics, nopLogger{}).Handler()

		Convey("Health and metrics should respond", func() {
			So(do(h, http.MethodGet, "/healthz").Code, ShouldEqual, http.StatusOK)

			rec := do(h, http.MethodGet, "/metrics")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "backupd_sweeps_total")
		})

		Convey("Readiness should reflect the store", func() {
			So(do(h, http.MethodGet, "/readyz").Code, ShouldEqual, http.StatusOK)

			down := New(Config{}, fakePinger{err: errors.New("database is locked")}, jobs, nil, nopLogger{}).Handler()
			rec := do(down, http.MethodGet, "/readyz")
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(rec.Body.String(), ShouldContainSubstring, "database is locked")
		})

		Convey("A manual trigger should enqueue the job", func() {
			rec := do(h, http.MethodPost, "/api/jobs/7/run")
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(jobs.triggered, ShouldResemble, []int64{7})

			var body map[string]any
			So(json.NewDecoder(rec.Body).Decode(&body), ShouldBeNil)
			So(body["task_id"], ShouldEqual, "task-7")
		})

		Convey("A malformed id should be rejected", func() {
			So(do(h, http.MethodPost, "/api/jobs/abc/run").Code, ShouldEqual, http.StatusBadRequest)
			So(jobs.triggered, ShouldBeEmpty)
		})

		Convey("Queue errors should map to 503", func() {
			jobs.triggerErr = fmt.Errorf("enqueue: %w", queue.ErrQueueFull)
			So(do(h, http.MethodPost, "/api/jobs/7/run").Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Missing jobs should map to 404", func() {
			jobs.triggerErr = domain.ErrJobNotFoundOrInactive
			So(do(h, http.MethodPost, "/api/jobs/7/run").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/api/jobs/404/schedule").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("A schedule preview should use defaults and overrides", func() {
			rec := do(h, http.MethodGet, "/api/jobs/3/schedule")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(jobs.count, ShouldEqual, 10)
			So(jobs.within, ShouldEqual, 24*time.Hour)

			rec = do(h, http.MethodGet, "/api/jobs/3/schedule?count=3&within=2h")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(jobs.count, ShouldEqual, 3)
			So(jobs.within, ShouldEqual, 2*time.Hour)

			So(do(h, http.MethodGet, "/api/jobs/3/schedule?count=-1").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("With an API token the job routes need a bearer header", func() {
			guarded := New(Config{APIToken: "s3cret"}, fakePinger{}, jobs, nil, nopLogger{}).Handler()

			So(do(guarded, http.MethodPost, "/api/jobs/7/run").Code, ShouldEqual, http.StatusUnauthorized)

			req := httptest.NewRequest(http.MethodPost, "/api/jobs/7/run", nil)
			req.Header.Set("Authorization", "Bearer wrong")
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(jobs.triggered, ShouldBeEmpty)

			req = httptest.NewRequest(http.MethodPost, "/api/jobs/7/run", nil)
			req.Header.Set("Authorization", "Bearer s3cret")
			rec = httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(jobs.triggered, ShouldResemble, []int64{7})

			So(do(guarded, http.MethodGet, "/healthz").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Run should stop when the context is cancelled", func() {
			srv := New(Config{Addr: "127.0.0.1:0"}, nil, jobs, nil, nopLogger{})
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- srv.Run(ctx) }()

			time.Sleep(100 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	})
}
