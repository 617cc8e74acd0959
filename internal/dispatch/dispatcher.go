package dispatch

import (
	"context"
	"errors"
	"fmt"

	"headliner/internal/model"

	"go.uber.org/zap"
)

var (
	ErrNoTargets    = errors.New("update request has no targets")
	ErrUnknownScope = errors.New("unknown scope")
)

// Port persists updates. Every method returns once the work is accepted
// and reports the outcome later through done. Completions are not ordered
// relative to each other.
type Port interface {
	Submit(ctx context.Context, req model.UpdateRequest, done func(error)) error
	MarkFeedRead(ctx context.Context, feedID int64, done func(error)) error
	MarkVirtualFeedRead(ctx context.Context, feedID int64, done func(error)) error
	MarkCategoryRead(ctx context.Context, categoryID int64, done func(error)) error
	Unsubscribe(ctx context.Context, feedID int64, done func(error)) error
}

// Notifier tells the query side that its data is stale.
type Notifier interface {
	NotifyChange(ctx context.Context) error
}

// Completion yields exactly one value, the outcome of a dispatch, and is
// then closed.
type Completion <-chan error

// Wait blocks until the dispatch completes or ctx is done.
func (c Completion) Wait(ctx context.Context) error {
	select {
	case err := <-c:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher turns user intents into port requests.
type Dispatcher struct {
	port     Port
	notifier Notifier
	logger   *zap.Logger
}

func NewDispatcher(port Port, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		port:     port,
		notifier: notifier,
		logger:   logger,
	}
}

// ToggleRead flips the read state. Value true marks the article read.
func (d *Dispatcher) ToggleRead(ctx context.Context, a model.ArticleSummary) (Completion, error) {
	return d.Submit(ctx, model.NewFlagUpdate(model.FieldRead, a.IsUnread, a.ID))
}

func (d *Dispatcher) ToggleStarred(ctx context.Context, a model.ArticleSummary) (Completion, error) {
	return d.Submit(ctx, model.NewFlagUpdate(model.FieldStarred, !a.IsStarred, a.ID))
}

func (d *Dispatcher) TogglePublished(ctx context.Context, a model.ArticleSummary) (Completion, error) {
	return d.Submit(ctx, model.NewFlagUpdate(model.FieldPublished, !a.IsPublished, a.ID))
}

func (d *Dispatcher) SetNote(ctx context.Context, a model.ArticleSummary, text string) (Completion, error) {
	return d.Submit(ctx, model.NewNoteUpdate(a.ID, text))
}

// MarkAboveRead marks all given articles read with a single request.
func (d *Dispatcher) MarkAboveRead(ctx context.Context, items []model.ArticleSummary) (Completion, error) {
	if len(items) == 0 {
		return done(nil), nil
	}
	ids := make([]int64, len(items))
	for i, a := range items {
		ids[i] = a.ID
	}
	return d.Submit(ctx, model.NewFlagUpdate(model.FieldRead, true, ids...))
}

// Submit hands an arbitrary request to the port.
func (d *Dispatcher) Submit(ctx context.Context, req model.UpdateRequest) (Completion, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}
	logger := d.logger.With(
		zap.String("request_id", req.ID.String()),
		zap.String("field", string(req.Field)),
		zap.Int("targets", len(req.Targets)),
	)
	return d.run(ctx, logger, func(cb func(error)) error {
		return d.port.Submit(ctx, req, cb)
	})
}

// MarkFeedOrCategoryRead marks everything in scope read. Feeds, virtual
// feeds and categories go to separate port operations.
func (d *Dispatcher) MarkFeedOrCategoryRead(ctx context.Context, scope model.Scope) (Completion, error) {
	logger := d.logger.With(zap.String("scope", scope.String()))
	var submit func(cb func(error)) error
	switch scope.Kind {
	case model.ScopeFeed:
		submit = func(cb func(error)) error { return d.port.MarkFeedRead(ctx, scope.ID, cb) }
	case model.ScopeVirtual:
		submit = func(cb func(error)) error { return d.port.MarkVirtualFeedRead(ctx, scope.ID, cb) }
	case model.ScopeCategory:
		submit = func(cb func(error)) error { return d.port.MarkCategoryRead(ctx, scope.ID, cb) }
	default:
		return nil, fmt.Errorf("mark read %s: %w", scope, ErrUnknownScope)
	}
	return d.run(ctx, logger, submit)
}

func (d *Dispatcher) Unsubscribe(ctx context.Context, feedID int64) (Completion, error) {
	logger := d.logger.With(zap.Int64("feed_id", feedID))
	return d.run(ctx, logger, func(cb func(error)) error {
		return d.port.Unsubscribe(ctx, feedID, cb)
	})
}

// run submits work and wires its completion: log the outcome, ask the
// query side to reload on success, then deliver the result.
func (d *Dispatcher) run(ctx context.Context, logger *zap.Logger, submit func(cb func(error)) error) (Completion, error) {
	result := make(chan error, 1)
	// The completion may fire after the caller's context is gone.
	notifyCtx := context.WithoutCancel(ctx)

	err := submit(func(err error) {
		if err != nil {
			logger.Error("Update failed", zap.Error(err))
		} else {
			logger.Debug("Update applied")
			if nerr := d.notifier.NotifyChange(notifyCtx); nerr != nil {
				logger.Warn("Change notification failed", zap.Error(nerr))
			}
		}
		result <- err
		close(result)
	})
	if err != nil {
		logger.Error("Submit failed", zap.Error(err))
		return nil, fmt.Errorf("submit: %w", err)
	}
	return result, nil
}

func done(err error) Completion {
	c := make(chan error, 1)
	c <- err
	close(c)
	return c
}
