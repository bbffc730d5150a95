// Package queue is a bounded in-process task queue drained by a fixed pool of
// workers. Submission is fire-and-forget and returns an opaque task id.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
	ErrUnknownTask = errors.New("no handler registered for task")
	ErrNotStarted  = errors.New("task queue is not started")
)

type Task struct {
	ID         string
	Name       string
	JobID      int64
	EnqueuedAt time.Time
}

type Handler func(ctx context.Context, task Task)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Config struct {
	Workers   int
	QueueSize int
}

type Pool struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	handlers map[string]Handler
	tasks    chan Task
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

func New(cfg Config, logger Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Pool{
		cfg:      cfg,
		logger:   logger,
		handlers: map[string]Handler{},
		tasks:    make(chan Task, cfg.QueueSize),
	}
}

func (p *Pool) Register(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// Start launches the workers. Handlers receive ctx; once it is cancelled,
// queued tasks are dropped instead of run.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Infof("Task queue started with %d worker(s)", p.cfg.Workers)
}

// Enqueue submits a task without waiting for it to run.
func (p *Pool) Enqueue(ctx context.Context, name string, jobID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrQueueClosed
	}
	if !p.started {
		return "", ErrNotStarted
	}
	if _, ok := p.handlers[name]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		JobID:      jobID,
		EnqueuedAt: time.Now(),
	}

	select {
	case p.tasks <- task:
		return task.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Stop refuses new tasks and waits for queued ones to finish or for ctx to
// expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infof("Task queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task queue stop: %w", ctx.Err())
	}
}

func (p *Pool) Pending() int {
	return len(p.tasks)
}

func (p *Pool) worker(ctx context.Context, idx int) {
	defer p.wg.Done()

	for task := range p.tasks {
		if ctx.Err() != nil {
			p.logger.Warnf("Dropping task %s (%s) for job %d: %v", task.ID, task.Name, task.JobID, ctx.Err())
			continue
		}

		p.mu.Lock()
		h := p.handlers[task.Name]
		p.mu.Unlock()

		p.run(ctx, idx, h, task)
	}
}

func (p *Pool) run(ctx context.Context, idx int, h Handler, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("Worker %d: task %s (%s) panicked: %v", idx, task.ID, task.Name, r)
		}
	}()
	h(ctx, task)
}
