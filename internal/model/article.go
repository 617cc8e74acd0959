package model

import (
	"time"
)

// ArticleSummary is the headline row for a single article. Values are
// snapshots: a refresh replaces them wholesale instead of mutating them.
type ArticleSummary struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	Title       string    `json:"title"`
	IsUnread    bool      `json:"is_unread"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsStarred   bool      `json:"is_starred"`
	IsPublished bool      `json:"is_published"`
	Note        string    `json:"note,omitempty"`
	FeedTitle   string    `json:"feed_title"`
	URL         string    `json:"url,omitempty"`
}

// HasNote reports whether a note is attached to the article.
func (a ArticleSummary) HasNote() bool {
	return a.Note != ""
}

// Feed is a subscription. CategoryID 0 means uncategorized.
type Feed struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}

// NewArticle creates an unread summary for a freshly fetched item.
func NewArticle(feedID int64, title, link string, updated time.Time) ArticleSummary {
	if updated.IsZero() {
		updated = time.Now()
	}
	return ArticleSummary{
		FeedID:    feedID,
		Title:     title,
		URL:       link,
		IsUnread:  true,
		UpdatedAt: updated,
	}
}
