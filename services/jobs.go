package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/yashrajoria/catalog-service/models"
)

const (
	importQueueKey     = "catalog_import:queue"
	importJobKeyPrefix = "catalog_import:job:"
	defaultJobTTL      = 24 * time.Hour
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

var ErrJobNotFound = errors.New("import job not found")

// ImportJob is the status record of an asynchronous commit.
type ImportJob struct {
	ID                           string                   `json:"id"`
	Status                       JobStatus                `json:"status"`
	RowCount                     int                      `json:"row_count"`
	CreatedAt                    time.Time                `json:"created_at"`
	UpdatedAt                    time.Time                `json:"updated_at"`
	Result                       *models.CommitResult     `json:"result,omitempty"`
	Error                        string                   `json:"error,omitempty"`
	Report                       *models.ValidationReport `json:"report,omitempty"`
	RolledBack                   bool                     `json:"rolled_back,omitempty"`
	ManualReconciliationRequired bool                     `json:"manual_reconciliation_required,omitempty"`
}

// JobStore persists async import jobs and their queue.
type JobStore interface {
	Enqueue(ctx context.Context, rows []models.ImportRow) (*ImportJob, error)
	Get(ctx context.Context, id string) (*ImportJob, error)
	Rows(ctx context.Context, id string) ([]models.ImportRow, error)
	Save(ctx context.Context, job *ImportJob) error
	// Next blocks until a job id is queued or ctx ends.
	Next(ctx context.Context) (string, error)
}

type RedisJobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisJobStore(rdb *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	return &RedisJobStore{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string  { return importJobKeyPrefix + id }
func rowsKey(id string) string { return importJobKeyPrefix + id + ":rows" }

func (s *RedisJobStore) Enqueue(ctx context.Context, rows []models.ImportRow) (*ImportJob, error) {
	now := time.Now().UTC()
	job := &ImportJob{
		ID:        uuid.New().String(),
		Status:    JobPending,
		RowCount:  len(rows),
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job rows: %w", err)
	}
	if err := s.rdb.Set(ctx, rowsKey(job.ID), payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store job rows: %w", err)
	}
	if err := s.Save(ctx, job); err != nil {
		s.rdb.Del(ctx, rowsKey(job.ID))
		return nil, err
	}
	if err := s.rdb.RPush(ctx, importQueueKey, job.ID).Err(); err != nil {
		s.rdb.Del(ctx, jobKey(job.ID), rowsKey(job.ID))
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*ImportJob, error) {
	val, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job ImportJob
	if err := json.Unmarshal(val, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisJobStore) Rows(ctx context.Context, id string) ([]models.ImportRow, error) {
	val, err := s.rdb.Get(ctx, rowsKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var rows []models.ImportRow
	if err := json.Unmarshal(val, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse rows of job %s: %w", id, err)
	}
	return rows, nil
}

func (s *RedisJobStore) Save(ctx context.Context, job *ImportJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if job.Status == JobDone || job.Status == JobFailed {
		s.rdb.Del(ctx, rowsKey(job.ID))
	}
	return nil
}

func (s *RedisJobStore) Next(ctx context.Context) (string, error) {
	res, err := s.rdb.BLPop(ctx, 0, importQueueKey).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}
