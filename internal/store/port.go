package store

import (
	"context"
	"fmt"
	"sync"

	"headliner/internal/metrics"
	"headliner/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QueuePort hands updates to the worker through the Redis queue and calls
// back once the worker reports the job done.
type QueuePort struct {
	queue  Queue
	logger *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]func(error)
}

// NewQueuePort starts listening for completions. The listener stops when
// ctx is done.
func NewQueuePort(ctx context.Context, queue Queue, logger *zap.Logger) (*QueuePort, error) {
	completions, err := queue.Completions(ctx)
	if err != nil {
		return nil, err
	}
	p := &QueuePort{
		queue:   queue,
		logger:  logger,
		pending: make(map[uuid.UUID]func(error)),
	}
	go p.listen(completions)
	return p, nil
}

func (p *QueuePort) listen(completions <-chan model.Completion) {
	for c := range completions {
		p.mu.Lock()
		done, ok := p.pending[c.JobID]
		delete(p.pending, c.JobID)
		p.mu.Unlock()
		if !ok {
			// Submitted by another process.
			continue
		}
		metrics.PendingUpdates.Dec()
		if c.Error != "" {
			done(fmt.Errorf("%w: %s", ErrJobFailed, c.Error))
			continue
		}
		done(nil)
	}
}

// Pending returns the number of jobs still waiting for a completion.
func (p *QueuePort) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *QueuePort) enqueue(ctx context.Context, job model.Job, done func(error)) error {
	// Register first: the worker may finish before Enqueue returns.
	p.mu.Lock()
	p.pending[job.ID] = done
	p.mu.Unlock()
	metrics.PendingUpdates.Inc()

	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.mu.Lock()
		delete(p.pending, job.ID)
		p.mu.Unlock()
		metrics.PendingUpdates.Dec()
		return err
	}
	p.logger.Debug("Job queued", zap.String("job_id", job.ID.String()), zap.String("kind", string(job.Kind)))
	return nil
}

func (p *QueuePort) Submit(ctx context.Context, req model.UpdateRequest, done func(error)) error {
	job := model.NewJob(model.JobUpdate)
	job.ID = req.ID
	job.Request = &req
	metrics.UpdateTargets.Observe(float64(len(req.Targets)))
	return p.enqueue(ctx, job, done)
}

func (p *QueuePort) MarkFeedRead(ctx context.Context, feedID int64, done func(error)) error {
	return p.markRead(ctx, model.Scope{Kind: model.ScopeFeed, ID: feedID}, done)
}

func (p *QueuePort) MarkVirtualFeedRead(ctx context.Context, feedID int64, done func(error)) error {
	return p.markRead(ctx, model.Scope{Kind: model.ScopeVirtual, ID: feedID}, done)
}

func (p *QueuePort) MarkCategoryRead(ctx context.Context, categoryID int64, done func(error)) error {
	return p.markRead(ctx, model.Scope{Kind: model.ScopeCategory, ID: categoryID}, done)
}

func (p *QueuePort) markRead(ctx context.Context, scope model.Scope, done func(error)) error {
	job := model.NewJob(model.JobMarkRead)
	job.Scope = &scope
	return p.enqueue(ctx, job, done)
}

func (p *QueuePort) Unsubscribe(ctx context.Context, feedID int64, done func(error)) error {
	job := model.NewJob(model.JobUnsubscribe)
	job.FeedID = feedID
	return p.enqueue(ctx, job, done)
}
