package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/infrastructure/command"
)

var errDatastoreDown = errors.New("datastore unreachable")

// memStore is an in-memory job and execution repository.
type memStore struct {
	mu      sync.Mutex
	jobs    map[int64]domain.Job
	records []domain.ExecutionRecord
	nextID  int64

	listErr   error
	countErr  error
	createErr error
}

func newMemStore(jobs ...domain.Job) *memStore {
	s := &memStore{jobs: map[int64]domain.Job{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) GetActiveJob(_ context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.IsActive {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (s *memStore) GetJob(_ context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (s *memStore) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	all, _ := s.ListJobs(ctx)
	active := all[:0]
	for _, j := range all {
		if j.IsActive {
			active = append(active, j)
		}
	}
	return active, nil
}

func (s *memStore) ListJobs(context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs, nil
}

func (s *memStore) CreateExecution(_ context.Context, rec *domain.ExecutionRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, *rec)
	return nil
}

func (s *memStore) UpdateExecution(_ context.Context, rec *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i].Status = rec.Status
			s.records[i].Details = rec.Details
			s.records[i].FileSize = rec.FileSize
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) CountExecutionsSince(_ context.Context, jobID int64, since time.Time) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.JobID == jobID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteExecutionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var deleted int64
	for _, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return deleted, nil
}

func (s *memStore) ListExecutions(_ context.Context, jobID int64, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, r := range s.records {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) addRecord(jobID int64, at time.Time) {
	_ = s.CreateExecution(context.Background(), &domain.ExecutionRecord{
		JobID:     jobID,
		Status:    domain.StatusSuccess,
		CreatedAt: at,
	})
}

func (s *memStore) snapshot() []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExecutionRecord(nil), s.records...)
}

type enqueued struct {
	name  string
	jobID int64
}

type fakeQueue struct {
	mu        sync.Mutex
	calls     []enqueued
	err       error
	onEnqueue func(jobID int64)
}

func (q *fakeQueue) Enqueue(_ context.Context, name string, jobID int64) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.mu.Lock()
	q.calls = append(q.calls, enqueued{name: name, jobID: jobID})
	id := fmt.Sprintf("task-%d", len(q.calls))
	q.mu.Unlock()
	if q.onEnqueue != nil {
		q.onEnqueue(jobID)
	}
	return id, nil
}

// fakeRunner stands in for pg_dump and friends.
type fakeRunner struct {
	output string
	err    error
	cmds   []command.Cmd
}

func (r *fakeRunner) Run(_ context.Context, cmd command.Cmd) error {
	r.cmds = append(r.cmds, cmd)
	if r.err != nil {
		return r.err
	}
	if cmd.StdoutPath != "" {
		return os.WriteFile(cmd.StdoutPath, []byte(r.output), 0o600)
	}
	return nil
}

type producerFunc func(ctx context.Context, src domain.Source, format domain.OutputFormat, workDir string) (*domain.Artifact, error)

func (f producerFunc) Produce(ctx context.Context, src domain.Source, format domain.OutputFormat, workDir string) (*domain.Artifact, error) {
	return f(ctx, src, format, workDir)
}

type delivery struct {
	path    string
	caption string
	size    int64
	existed bool
}

type fakeChannel struct {
	mu         sync.Mutex
	deliveries []delivery
	texts      []string
	textCtxErr []error
	deliverErr error
	sendErr    error
}

func (c *fakeChannel) DeliverArtifact(_ context.Context, _ domain.Destination, path, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := delivery{path: path, caption: caption}
	if info, err := os.Stat(path); err == nil {
		d.existed = true
		d.size = info.Size()
	}
	c.deliveries = append(c.deliveries, d)
	return c.deliverErr
}

func (c *fakeChannel) SendText(ctx context.Context, _ domain.Destination, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, message)
	c.textCtxErr = append(c.textCtxErr, ctx.Err())
	return c.sendErr
}

// memStorage is an archive mirror keyed by file name.
type memStorage struct {
	mu      sync.Mutex
	files   map[string]time.Time
	oldErr  error
	delErr  map[string]error
	deleted []string
	now     time.Time
}

func newMemStorage(now time.Time) *memStorage {
	return &memStorage{files: map[string]time.Time{}, now: now}
}

func (m *memStorage) Name() string { return "mem" }

func (m *memStorage) Upload(_ context.Context, localPath, remoteName string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[remoteName] = m.now
	return nil
}

func (m *memStorage) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStorage) Delete(_ context.Context, remoteName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.delErr[remoteName]; err != nil {
		return err
	}
	delete(m.files, remoteName)
	m.deleted = append(m.deleted, remoteName)
	return nil
}

func (m *memStorage) GetOldFiles(_ context.Context, cutoff time.Time) ([]string, error) {
	if m.oldErr != nil {
		return nil, m.oldErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var old []string
	for name, mod := range m.files {
		if mod.Before(cutoff) {
			old = append(old, name)
		}
	}
	sort.Strings(old)
	return old, nil
}

func pgJob(id int64, schedule string) domain.Job {
	return domain.Job{
		ID:   id,
		Name: fmt.Sprintf("job-%d", id),
		Source: domain.Source{
			ID:       1,
			Name:     "orders",
			Kind:     domain.SourceDatabase,
			Engine:   domain.EnginePostgreSQL,
			Host:     "db.internal",
			Port:     5432,
			Database: "orders",
			User:     "backup",
			Password: "secret",
		},
		Destination: domain.Destination{
			ID:       1,
			Name:     "ops-channel",
			BotToken: "123:abc",
			ChatID:   "-1001",
		},
		Schedule:     schedule,
		OutputFormat: domain.FormatTarGz,
		IsActive:     true,
	}
}
