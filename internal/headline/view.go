package headline

import (
	"context"

	"headliner/internal/metrics"
	"headliner/internal/model"

	"go.uber.org/zap"
)

// Source is the authoritative query side. Subscribe delivers a signal
// every time the underlying data changed and a requery is due.
type Source interface {
	Headlines(ctx context.Context, q model.HeadlineQuery) ([]model.ArticleSummary, error)
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// View keeps a Store in sync with a Source for one query.
type View struct {
	Store  *Store
	query  model.HeadlineQuery
	source Source
	logger *zap.Logger
}

func NewView(source Source, q model.HeadlineQuery, logger *zap.Logger) *View {
	return &View{
		Store:  NewStore(),
		query:  q,
		source: source,
		logger: logger.With(zap.String("scope", q.Scope.String())),
	}
}

func (v *View) Query() model.HeadlineQuery {
	return v.query
}

// Refresh requeries the source and replaces the list.
func (v *View) Refresh(ctx context.Context) error {
	items, err := v.source.Headlines(ctx, v.query)
	metrics.RecordRefresh(err)
	if err != nil {
		return err
	}
	v.Store.Replace(items)
	v.logger.Debug("Headlines reloaded", zap.Int("count", len(items)))
	return nil
}

// Open subscribes to changes, loads the list and keeps it current in the
// background until ctx is done. Subscribing first means no change between
// the load and the watch is lost.
func (v *View) Open(ctx context.Context) error {
	changes, err := v.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	if err := v.Refresh(ctx); err != nil {
		return err
	}
	go v.follow(ctx, changes)
	return nil
}

// Watch refreshes on every change signal until ctx is done.
func (v *View) Watch(ctx context.Context) error {
	changes, err := v.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	v.follow(ctx, changes)
	return nil
}

func (v *View) follow(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := v.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				v.logger.Error("Refresh failed", zap.Error(err))
			}
		}
	}
}
