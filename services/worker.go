package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ImportWorker drains the async import queue one job at a time.
type ImportWorker struct {
	jobs     JobStore
	importer Importer
	logger   *zap.Logger
	backoff  time.Duration
}

func NewImportWorker(jobs JobStore, importer Importer, logger *zap.Logger) *ImportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportWorker{jobs: jobs, importer: importer, logger: logger, backoff: 500 * time.Millisecond}
}

// Run blocks until ctx is cancelled.
func (w *ImportWorker) Run(ctx context.Context) {
	w.logger.Info("import worker started", zap.String("queue", importQueueKey))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("import worker stopping")
			return
		default:
		}

		id, err := w.jobs.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to read import queue", zap.Error(err))
			time.Sleep(w.backoff)
			continue
		}
		if id == "" {
			continue
		}
		w.handle(ctx, id)
	}
}

func (w *ImportWorker) handle(ctx context.Context, id string) {
	log := w.logger.With(zap.String("job", id))
	job, err := w.jobs.Get(ctx, id)
	if err != nil {
		log.Error("failed to read job metadata", zap.Error(err))
		return
	}
	rows, err := w.jobs.Rows(ctx, id)
	if err != nil {
		log.Error("failed to read job rows", zap.Error(err))
		w.finish(ctx, job, err)
		return
	}

	job.Status = JobProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := w.jobs.Save(ctx, job); err != nil {
		log.Warn("failed to mark job processing", zap.Error(err))
	}

	result, err := w.importer.CommitImport(ctx, rows)
	if err != nil {
		log.Error("import job failed", zap.Error(err))
		w.finish(ctx, job, err)
		return
	}
	job.Result = result
	w.finish(ctx, job, nil)
	log.Info("import job done",
		zap.Int("created", result.Created.Products),
		zap.Int("updated", result.Updated.Products))
}

func (w *ImportWorker) finish(ctx context.Context, job *ImportJob, cause error) {
	job.UpdatedAt = time.Now().UTC()
	job.Status = JobDone
	if cause != nil {
		job.Status = JobFailed
		job.Error = cause.Error()
		if vf, ok := AsValidationFailure(cause); ok {
			job.Report = vf.Report
		}
		var cf *CommitFailure
		if errors.As(cause, &cf) {
			job.RolledBack = cf.RolledBackCleanly()
			job.ManualReconciliationRequired = !cf.RolledBackCleanly()
		}
	}
	if err := w.jobs.Save(context.WithoutCancel(ctx), job); err != nil {
		w.logger.Error("failed to store job result", zap.String("job", job.ID), zap.Error(err))
	}
}
