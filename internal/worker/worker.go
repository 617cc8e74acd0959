package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"headliner/internal/metrics"
	"headliner/internal/model"
	"headliner/internal/store"

	"go.uber.org/zap"
)

var ErrBadJob = errors.New("malformed job")

// Worker applies queued jobs to the article database.
type Worker struct {
	store  store.Store
	queue  store.Queue
	logger *zap.Logger
}

func NewWorker(st store.Store, queue store.Queue, logger *zap.Logger) *Worker {
	return &Worker{
		store:  st,
		queue:  queue,
		logger: logger,
	}
}

// Start runs the worker loop
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started. Waiting for jobs...")

	for {
		// Wait for job (Blocking call to Redis)
		job, err := w.queue.PopQueue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker shutting down")
				return
			}
			w.logger.Error("Queue error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job model.Job) {
	logger := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("kind", string(job.Kind)))
	logger.Debug("Processing started")

	start := time.Now()
	err := w.apply(ctx, job)
	metrics.RecordJob(string(job.Kind), err, time.Since(start).Seconds())
	if err != nil {
		logger.Error("Job failed", zap.Error(err))
	} else {
		logger.Info("Job applied")
		// Submitters may be gone by now, so lists are told here as well.
		if nerr := w.queue.NotifyChange(ctx); nerr != nil {
			logger.Warn("Change notification failed", zap.Error(nerr))
		}
	}

	if cerr := w.queue.Complete(ctx, job.ID, err); cerr != nil {
		logger.Error("Failed to publish completion", zap.Error(cerr))
	}
}

func (w *Worker) apply(ctx context.Context, job model.Job) error {
	switch job.Kind {
	case model.JobUpdate:
		if job.Request == nil {
			return fmt.Errorf("update without request: %w", ErrBadJob)
		}
		return w.store.Apply(ctx, *job.Request)
	case model.JobMarkRead:
		if job.Scope == nil {
			return fmt.Errorf("mark read without scope: %w", ErrBadJob)
		}
		switch job.Scope.Kind {
		case model.ScopeFeed:
			return w.store.MarkFeedRead(ctx, job.Scope.ID)
		case model.ScopeVirtual:
			return w.store.MarkVirtualFeedRead(ctx, job.Scope.ID)
		case model.ScopeCategory:
			return w.store.MarkCategoryRead(ctx, job.Scope.ID)
		}
		return fmt.Errorf("scope %s: %w", job.Scope, ErrBadJob)
	case model.JobUnsubscribe:
		return w.store.Unsubscribe(ctx, job.FeedID)
	}
	return fmt.Errorf("kind %q: %w", job.Kind, ErrBadJob)
}
