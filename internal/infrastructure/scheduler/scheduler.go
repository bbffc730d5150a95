// Package scheduler drives the periodic sweeps of the engine: the due-job
// tick and the daily retention run.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a seconds-resolution scheduler evaluated in loc. A nil loc
// means time.Local. Overlapping runs of the same entry are skipped.
func New(loc *time.Location, logger Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers job under spec. Errors returned by job are logged with
// name; the context passed to job is cancelled by Stop.
func (s *Scheduler) AddJob(name, spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.logger.Errorf("[%s] scheduled run failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
			return
		}
		s.logger.Infof("[%s] scheduled run finished in %s", name, time.Since(start).Round(time.Millisecond))
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
