// Package ingest pulls RSS/Atom feeds into the local article database.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"headliner/internal/model"
	"headliner/internal/store"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// FetchTimeout bounds one feed download.
const FetchTimeout = 30 * time.Second

// Importer fetches feeds and stores their items as unread headlines.
type Importer struct {
	store  store.Store
	parser *gofeed.Parser
	logger *zap.Logger
	now    func() time.Time
}

func NewImporter(st store.Store, logger *zap.Logger) *Importer {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: FetchTimeout}
	return &Importer{
		store:  st,
		parser: parser,
		logger: logger,
		now:    time.Now,
	}
}

// Import fetches url and stores new items. The feed is created on first
// import and placed in categoryID. Returns the feed and the number of new
// articles.
func (im *Importer) Import(ctx context.Context, url string, categoryID int64) (*model.Feed, int, error) {
	parsed, err := im.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("parse feed %s: %w", url, err)
	}
	return im.save(ctx, url, categoryID, parsed)
}

func (im *Importer) save(ctx context.Context, url string, categoryID int64, parsed *gofeed.Feed) (*model.Feed, int, error) {
	feed, err := im.store.FeedByURL(ctx, url)
	switch {
	case errors.Is(err, store.ErrNotFound):
		feed = &model.Feed{CategoryID: categoryID, Title: parsed.Title, URL: url}
		if feed.Title == "" {
			feed.Title = url
		}
		if err := im.store.SaveFeed(ctx, feed); err != nil {
			return nil, 0, fmt.Errorf("save feed: %w", err)
		}
		im.logger.Info("Subscribed", zap.Int64("feed_id", feed.ID), zap.String("url", url))
	case err != nil:
		return nil, 0, err
	}

	logger := im.logger.With(zap.Int64("feed_id", feed.ID))
	added := 0
	for _, item := range parsed.Items {
		link := item.Link
		if link == "" {
			link = item.GUID
		}
		if link == "" {
			// Nothing to recognize it by on the next import.
			logger.Debug("Skipping item without link or guid", zap.String("title", item.Title))
			continue
		}
		seen, err := im.store.HasArticleURL(ctx, feed.ID, link)
		if err != nil {
			return feed, added, err
		}
		if seen {
			continue
		}

		updated := im.now()
		if item.UpdatedParsed != nil {
			updated = *item.UpdatedParsed
		} else if item.PublishedParsed != nil {
			updated = *item.PublishedParsed
		}

		article := model.NewArticle(feed.ID, item.Title, link, updated)
		if err := im.store.SaveArticle(ctx, &article); err != nil {
			logger.Error("Failed to save article", zap.String("url", link), zap.Error(err))
			continue
		}
		added++
	}

	logger.Info("Feed imported", zap.Int("new_articles", added), zap.Int("items", len(parsed.Items)))
	return feed, added, nil
}
