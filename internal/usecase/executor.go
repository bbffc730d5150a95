package usecase

import (
	"context"
	"time"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 60 * time.Second
)

// Runner is a single job attempt, satisfied by *Pipeline.
type Runner interface {
	Run(ctx context.Context, jobID int64) (*RunResult, error)
}

type RetryConfig struct {
	MaxRetries int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
}

// Executor retries attempts that ended in an unexpected error. Producer and
// delivery failures are terminal.
type Executor struct {
	runner  Runner
	cfg     RetryConfig
	logger  Logger
	metrics Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewExecutor(runner Runner, cfg RetryConfig, logger Logger, metrics Metrics) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultRetryBackoff
	}
	return &Executor{
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		metrics: metricsOrNop(metrics),
		sleep:   sleepCtx,
	}
}

func (e *Executor) Execute(ctx context.Context, jobID int64) (*RunResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := e.runner.Run(ctx, jobID)
		if err != nil {
			return res, err
		}
		res.Attempts = attempt

		if res.ErrorKind != KindUnexpected {
			return res, nil
		}

		retries := attempt - 1
		if retries >= e.cfg.MaxRetries {
			res.RetriesExhausted = e.cfg.MaxRetries > 0
			e.logger.Errorf("Backup job %d failed after %d attempt(s): %s", jobID, attempt, res.Error)
			return res, nil
		}

		delay := e.cfg.Backoff * time.Duration(attempt)
		e.logger.Infof("Retrying backup job %d (attempt %d/%d) in %s", jobID, attempt, e.cfg.MaxRetries, delay)
		e.metrics.ObserveRetry()
		if err := e.sleep(ctx, delay); err != nil {
			return res, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
