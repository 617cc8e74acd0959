package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"headliner/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrNoDatabase = errors.New("badgerdb is not initialized")
	ErrJobFailed  = errors.New("job failed")
)

// Store is the local article database.
type Store interface {
	SaveFeed(ctx context.Context, feed *model.Feed) error
	Feed(ctx context.Context, id int64) (*model.Feed, error)
	FeedByURL(ctx context.Context, url string) (*model.Feed, error)
	Feeds(ctx context.Context) ([]model.Feed, error)

	SaveArticle(ctx context.Context, article *model.ArticleSummary) error
	Get(ctx context.Context, id int64) (*model.ArticleSummary, error)
	HasArticleURL(ctx context.Context, feedID int64, url string) (bool, error)
	Headlines(ctx context.Context, q model.HeadlineQuery) ([]model.ArticleSummary, error)

	Apply(ctx context.Context, req model.UpdateRequest) error
	MarkFeedRead(ctx context.Context, feedID int64) error
	MarkVirtualFeedRead(ctx context.Context, feedID int64) error
	MarkCategoryRead(ctx context.Context, categoryID int64) error
	Unsubscribe(ctx context.Context, feedID int64) error
}

// Queue carries jobs to the worker and their completions back. The worker
// also uses it to tell headline lists to reload after a change.
type Queue interface {
	Enqueue(ctx context.Context, job model.Job) error
	PopQueue(ctx context.Context) (model.Job, error)
	Complete(ctx context.Context, jobID uuid.UUID, jobErr error) error
	Completions(ctx context.Context) (<-chan model.Completion, error)
	NotifyChange(ctx context.Context) error
}
