package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/catalog-service/models"
	"go.uber.org/zap"
)

type memJobs struct {
	mu    sync.Mutex
	jobs  map[string]*ImportJob
	rows  map[string][]models.ImportRow
	queue chan string
	saved chan *ImportJob
}

func newMemJobs() *memJobs {
	return &memJobs{
		jobs:  make(map[string]*ImportJob),
		rows:  make(map[string][]models.ImportRow),
		queue: make(chan string, 8),
		saved: make(chan *ImportJob, 16),
	}
}

func (m *memJobs) Enqueue(ctx context.Context, rows []models.ImportRow) (*ImportJob, error) {
	m.mu.Lock()
	id := "job-" + time.Now().Format("150405.000000000")
	job := &ImportJob{ID: id, Status: JobPending, RowCount: len(rows)}
	m.jobs[id] = job
	m.rows[id] = rows
	m.mu.Unlock()
	m.queue <- id
	return job, nil
}

func (m *memJobs) Get(ctx context.Context, id string) (*ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) Rows(ctx context.Context, id string) ([]models.ImportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.rows[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rows, nil
}

func (m *memJobs) Save(ctx context.Context, job *ImportJob) error {
	m.mu.Lock()
	cp := *job
	m.jobs[job.ID] = &cp
	m.mu.Unlock()
	m.saved <- &cp
	return nil
}

func (m *memJobs) Next(ctx context.Context) (string, error) {
	select {
	case id := <-m.queue:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waitFinal returns the first saved record in a terminal state.
func (m *memJobs) waitFinal(t *testing.T) *ImportJob {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case job := <-m.saved:
			if job.Status == JobDone || job.Status == JobFailed {
				return job
			}
		case <-timeout:
			t.Fatal("job did not finish")
			return nil
		}
	}
}

func startWorker(t *testing.T, jobs JobStore, importer Importer) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewImportWorker(jobs, importer, zap.NewNop()).Run(ctx)
}

func TestImportWorker_CommitsQueuedJob(t *testing.T) {
	sf := newServiceFixture(t)
	jobs := newMemJobs()
	startWorker(t, jobs, sf.svc)

	job, err := jobs.Enqueue(context.Background(), []models.ImportRow{productRow("Tee", "TEE-1")})
	require.NoError(t, err)

	final := jobs.waitFinal(t)
	assert.Equal(t, job.ID, final.ID)
	assert.Equal(t, JobDone, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, 1, final.Result.Created.Products)
}

func TestImportWorker_RecordsFailures(t *testing.T) {
	t.Run("validation report is kept", func(t *testing.T) {
		sf := newServiceFixture(t)
		jobs := newMemJobs()
		startWorker(t, jobs, sf.svc)

		_, err := jobs.Enqueue(context.Background(), []models.ImportRow{{Title: "No category"}})
		require.NoError(t, err)

		final := jobs.waitFinal(t)
		assert.Equal(t, JobFailed, final.Status)
		require.NotNil(t, final.Report)
		assert.False(t, final.Report.Valid)
		assert.False(t, final.RolledBack)
	})

	t.Run("rollback outcome is kept", func(t *testing.T) {
		sf := newServiceFixture(t)
		sf.store.failInsertAt = 1
		jobs := newMemJobs()
		startWorker(t, jobs, sf.svc)

		_, err := jobs.Enqueue(context.Background(), []models.ImportRow{productRow("Tee", "TEE-1")})
		require.NoError(t, err)

		final := jobs.waitFinal(t)
		assert.Equal(t, JobFailed, final.Status)
		assert.True(t, final.RolledBack)
		assert.False(t, final.ManualReconciliationRequired)
		assert.NotEmpty(t, final.Error)
	})
}

func TestImportWorker_StopsOnCancel(t *testing.T) {
	jobs := newMemJobs()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewImportWorker(jobs, nil, zap.NewNop()).Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal(errors.New("worker did not stop"))
	}
}
