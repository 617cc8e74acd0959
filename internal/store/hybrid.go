package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"headliner/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	queueKey       = "queue:updates"
	doneChannel    = "updates:done"
	changesChannel = "headlines:changed"

	feedPrefix    = "feed:"
	articlePrefix = "article:"
	linkPrefix    = "link:"

	DefaultFreshAge = 24 * time.Hour
)

// HybridStore combines Redis (job queue and notifications) and Badger
// (the article database).
type HybridStore struct {
	rdb *redis.Client
	db  *badger.DB

	freshAge time.Duration
	now      func() time.Time

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

type Option func(*HybridStore)

// WithFreshAge sets how recent an unread article must be to count as fresh.
func WithFreshAge(d time.Duration) Option {
	return func(s *HybridStore) {
		s.freshAge = d
	}
}

// WithClock overrides the time source used for fresh articles.
func WithClock(now func() time.Time) Option {
	return func(s *HybridStore) {
		s.now = now
	}
}

// NewHybridStore initializes databases.
// Pass badgerPath="" to run in "Redis-Only" mode (for CLI tools).
func NewHybridStore(redisAddr string, badgerPath string, opts ...Option) (*HybridStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *badger.DB
	if badgerPath != "" {
		bopts := badger.DefaultOptions(badgerPath)
		bopts.Logger = nil
		var err error
		db, err = badger.Open(bopts)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
	}

	return newHybridStore(rdb, db, opts...), nil
}

func newHybridStore(rdb *redis.Client, db *badger.DB, opts ...Option) *HybridStore {
	s := &HybridStore{
		rdb:      rdb,
		db:       db,
		freshAge: DefaultFreshAge,
		now:      time.Now,
		seqs:     make(map[string]*badger.Sequence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cleans up connections
func (s *HybridStore) Close() {
	s.seqMu.Lock()
	for _, seq := range s.seqs {
		seq.Release()
	}
	s.seqs = nil
	s.seqMu.Unlock()

	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func feedKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%d", feedPrefix, id))
}

func articleKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%d", articlePrefix, id))
}

func linkKey(feedID int64, url string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", linkPrefix, feedID, url))
}

// nextID hands out ids from a Badger sequence. Ids start at 1.
func (s *HybridStore) nextID(name string) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.seqs == nil {
		s.seqs = make(map[string]*badger.Sequence)
	}
	seq, ok := s.seqs[name]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq:"+name), 64)
		if err != nil {
			return 0, fmt.Errorf("sequence %s: %w", name, err)
		}
		s.seqs[name] = seq
	}
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scanArticles decodes every stored article.
func scanArticles(txn *badger.Txn) ([]model.ArticleSummary, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []model.ArticleSummary
	prefix := []byte(articlePrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var a model.ArticleSummary
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func scanFeeds(txn *badger.Txn) ([]model.Feed, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []model.Feed
	prefix := []byte(feedPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var f model.Feed
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SaveFeed stores a feed, assigning an id when it has none.
func (s *HybridStore) SaveFeed(ctx context.Context, feed *model.Feed) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	if feed.ID == 0 {
		id, err := s.nextID("feed")
		if err != nil {
			return err
		}
		feed.ID = id
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, feedKey(feed.ID), feed)
	})
}

func (s *HybridStore) Feed(ctx context.Context, id int64) (*model.Feed, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var f model.Feed
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, feedKey(id), &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *HybridStore) FeedByURL(ctx context.Context, url string) (*model.Feed, error) {
	feeds, err := s.Feeds(ctx)
	if err != nil {
		return nil, err
	}
	for i := range feeds {
		if feeds[i].URL == url {
			return &feeds[i], nil
		}
	}
	return nil, ErrNotFound
}

// Feeds lists all subscriptions.
func (s *HybridStore) Feeds(ctx context.Context) ([]model.Feed, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var feeds []model.Feed
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		feeds, err = scanFeeds(txn)
		return err
	})
	return feeds, err
}

// SaveArticle stores an article, assigning an id when it has none.
func (s *HybridStore) SaveArticle(ctx context.Context, article *model.ArticleSummary) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	if article.ID == 0 {
		id, err := s.nextID("article")
		if err != nil {
			return err
		}
		article.ID = id
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, articleKey(article.ID), article); err != nil {
			return err
		}
		if article.URL == "" {
			return nil
		}
		return txn.Set(linkKey(article.FeedID, article.URL), articleKey(article.ID))
	})
}

// Get loads one article with its feed title filled in.
func (s *HybridStore) Get(ctx context.Context, id int64) (*model.ArticleSummary, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var a model.ArticleSummary
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, articleKey(id), &a); err != nil {
			return err
		}
		var f model.Feed
		switch err := getJSON(txn, feedKey(a.FeedID), &f); {
		case err == nil:
			a.FeedTitle = f.Title
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *HybridStore) HasArticleURL(ctx context.Context, feedID int64, url string) (bool, error) {
	if s.db == nil {
		return false, ErrNoDatabase
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(linkKey(feedID, url))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// inScope builds the article filter for a scope.
func (s *HybridStore) inScope(scope model.Scope, feeds map[int64]model.Feed) (func(model.ArticleSummary) bool, error) {
	switch scope.Kind {
	case model.ScopeFeed:
		return func(a model.ArticleSummary) bool { return a.FeedID == scope.ID }, nil
	case model.ScopeCategory:
		return func(a model.ArticleSummary) bool {
			f, ok := feeds[a.FeedID]
			return ok && f.CategoryID == scope.ID
		}, nil
	case model.ScopeVirtual:
		switch scope.ID {
		case model.VirtualStarred:
			return func(a model.ArticleSummary) bool { return a.IsStarred }, nil
		case model.VirtualPublished:
			return func(a model.ArticleSummary) bool { return a.IsPublished }, nil
		case model.VirtualFresh:
			cutoff := s.now().Add(-s.freshAge)
			return func(a model.ArticleSummary) bool {
				return a.IsUnread && a.UpdatedAt.After(cutoff)
			}, nil
		case model.VirtualAll:
			return func(model.ArticleSummary) bool { return true }, nil
		}
	}
	return nil, fmt.Errorf("scope %s: %w", scope, ErrNotFound)
}

func feedIndex(feeds []model.Feed) map[int64]model.Feed {
	m := make(map[int64]model.Feed, len(feeds))
	for _, f := range feeds {
		m[f.ID] = f
	}
	return m
}

// Headlines returns the articles in scope, newest first unless the query
// asks for oldest first.
func (s *HybridStore) Headlines(ctx context.Context, q model.HeadlineQuery) ([]model.ArticleSummary, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	var out []model.ArticleSummary
	err := s.db.View(func(txn *badger.Txn) error {
		feeds, err := scanFeeds(txn)
		if err != nil {
			return err
		}
		byID := feedIndex(feeds)
		match, err := s.inScope(q.Scope, byID)
		if err != nil {
			return err
		}
		all, err := scanArticles(txn)
		if err != nil {
			return err
		}
		for _, a := range all {
			if !match(a) || (q.OnlyUnread && !a.IsUnread) {
				continue
			}
			a.FeedTitle = byID[a.FeedID].Title
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b model.ArticleSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if q.OldestFirst {
		slices.Reverse(out)
	}
	return out, nil
}

// Apply writes a request to all its targets in one transaction. An unknown
// target aborts the whole request.
func (s *HybridStore) Apply(ctx context.Context, req model.UpdateRequest) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range req.Targets {
			var a model.ArticleSummary
			if err := getJSON(txn, articleKey(id), &a); err != nil {
				return fmt.Errorf("article %d: %w", id, err)
			}
			a = req.ApplyTo(a)
			if err := setJSON(txn, articleKey(id), a); err != nil {
				return err
			}
		}
		return nil
	})
}

// articlesWhere returns the stored articles accepted by the filter that
// build makes from the feed index.
func (s *HybridStore) articlesWhere(build func(map[int64]model.Feed) (func(model.ArticleSummary) bool, error)) ([]model.ArticleSummary, error) {
	var out []model.ArticleSummary
	err := s.db.View(func(txn *badger.Txn) error {
		feeds, err := scanFeeds(txn)
		if err != nil {
			return err
		}
		match, err := build(feedIndex(feeds))
		if err != nil {
			return err
		}
		all, err := scanArticles(txn)
		if err != nil {
			return err
		}
		for _, a := range all {
			if match(a) {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

// markRead clears the unread flag on every article in scope. Large scopes
// exceed one transaction, so the writes go through a batch and are not
// atomic: a failure can leave part of the scope marked.
func (s *HybridStore) markRead(scope model.Scope) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	unread, err := s.articlesWhere(func(feeds map[int64]model.Feed) (func(model.ArticleSummary) bool, error) {
		match, err := s.inScope(scope, feeds)
		if err != nil {
			return nil, err
		}
		return func(a model.ArticleSummary) bool { return a.IsUnread && match(a) }, nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, a := range unread {
		a.IsUnread = false
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := wb.Set(articleKey(a.ID), data); err != nil {
			return fmt.Errorf("mark read %s: %w", scope, err)
		}
	}
	return wb.Flush()
}

func (s *HybridStore) MarkFeedRead(ctx context.Context, feedID int64) error {
	return s.markRead(model.Scope{Kind: model.ScopeFeed, ID: feedID})
}

func (s *HybridStore) MarkVirtualFeedRead(ctx context.Context, feedID int64) error {
	if !model.IsVirtualFeed(feedID) {
		return fmt.Errorf("virtual feed %d: %w", feedID, ErrNotFound)
	}
	return s.markRead(model.Scope{Kind: model.ScopeVirtual, ID: feedID})
}

func (s *HybridStore) MarkCategoryRead(ctx context.Context, categoryID int64) error {
	return s.markRead(model.Scope{Kind: model.ScopeCategory, ID: categoryID})
}

// Unsubscribe removes a feed together with its articles. The feed key goes
// last, so an interrupted run can be repeated.
func (s *HybridStore) Unsubscribe(ctx context.Context, feedID int64) error {
	if s.db == nil {
		return ErrNoDatabase
	}
	if _, err := s.Feed(ctx, feedID); err != nil {
		return fmt.Errorf("feed %d: %w", feedID, err)
	}
	articles, err := s.articlesWhere(func(map[int64]model.Feed) (func(model.ArticleSummary) bool, error) {
		return func(a model.ArticleSummary) bool { return a.FeedID == feedID }, nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, a := range articles {
		if err := wb.Delete(articleKey(a.ID)); err != nil {
			return err
		}
		if a.URL != "" {
			if err := wb.Delete(linkKey(feedID, a.URL)); err != nil {
				return err
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(feedKey(feedID))
	})
}

// Enqueue pushes a job for the worker.
func (s *HybridStore) Enqueue(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, queueKey, data).Err()
}

// PopQueue waits for a job in the Redis queue (Blocking)
func (s *HybridStore) PopQueue(ctx context.Context) (model.Job, error) {
	// 0 means wait forever until an item arrives
	result, err := s.rdb.BRPop(ctx, 0, queueKey).Result()
	if err != nil {
		return model.Job{}, err
	}

	var job model.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return model.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Complete announces the outcome of a job.
func (s *HybridStore) Complete(ctx context.Context, jobID uuid.UUID, jobErr error) error {
	c := model.Completion{JobID: jobID}
	if jobErr != nil {
		c.Error = jobErr.Error()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, doneChannel, data).Err()
}

// Completions streams job outcomes until ctx is done.
func (s *HybridStore) Completions(ctx context.Context) (<-chan model.Completion, error) {
	msgs, err := s.subscribe(ctx, doneChannel)
	if err != nil {
		return nil, err
	}
	out := make(chan model.Completion)
	go func() {
		defer close(out)
		for msg := range msgs {
			var c model.Completion
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// NotifyChange tells every subscribed list to requery.
func (s *HybridStore) NotifyChange(ctx context.Context) error {
	return s.rdb.Publish(ctx, changesChannel, "changed").Err()
}

// Subscribe delivers change signals. Bursts collapse into one pending
// signal.
func (s *HybridStore) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := s.subscribe(ctx, changesChannel)
	if err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

// subscribe waits for the subscription to be confirmed so nothing
// published afterwards is missed. The channel closes when ctx is done.
func (s *HybridStore) subscribe(ctx context.Context, channel string) (<-chan *redis.Message, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	go func() {
		<-ctx.Done()
		ps.Close()
	}()
	return ps.Channel(), nil
}
