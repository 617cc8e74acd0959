package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"headliner/internal/dispatch"
	"headliner/internal/model"
	"headliner/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingNotifier struct {
	ch chan struct{}
}

func (n *countingNotifier) NotifyChange(ctx context.Context) error {
	n.ch <- struct{}{}
	return nil
}

// startWorker wires a real store (fake Redis + temp Badger), a running
// worker and a dispatcher talking to it through the queue.
func startWorker(t *testing.T) (*store.HybridStore, *dispatch.Dispatcher, *countingNotifier) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.NewHybridStore(mr.Addr(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(st.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zap.NewNop()
	w := NewWorker(st, st, logger)
	go w.Start(ctx)

	port, err := store.NewQueuePort(ctx, st, logger)
	require.NoError(t, err)
	notifier := &countingNotifier{ch: make(chan struct{}, 10)}
	return st, dispatch.NewDispatcher(port, notifier, logger), notifier
}

func seedFeed(t *testing.T, st *store.HybridStore, unread ...bool) (model.Feed, []model.ArticleSummary) {
	t.Helper()
	ctx := context.Background()
	feed := model.Feed{CategoryID: 1, Title: "Feed", URL: "https://feed.example/rss"}
	require.NoError(t, st.SaveFeed(ctx, &feed))

	var out []model.ArticleSummary
	for i, u := range unread {
		a := model.NewArticle(feed.ID, "title", "", time.Now().Add(-time.Duration(i)*time.Minute))
		a.IsUnread = u
		require.NoError(t, st.SaveArticle(ctx, &a))
		out = append(out, a)
	}
	return feed, out
}

func wait(t *testing.T, c dispatch.Completion) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "worker never completed the job")
	return err
}

func TestWorker_AppliesToggle(t *testing.T) {
	st, d, notifier := startWorker(t)
	_, arts := seedFeed(t, st, true)
	ctx := context.Background()

	c, err := d.ToggleRead(ctx, arts[0])
	require.NoError(t, err)
	require.NoError(t, wait(t, c))

	got, err := st.Get(ctx, arts[0].ID)
	require.NoError(t, err)
	assert.False(t, got.IsUnread)
	assert.Len(t, notifier.ch, 1, "success triggers one refresh")
}

func TestWorker_MarkAboveRead(t *testing.T) {
	st, d, _ := startWorker(t)
	feed, arts := seedFeed(t, st, true, false, true, true, true)
	ctx := context.Background()

	c, err := d.MarkAboveRead(ctx, []model.ArticleSummary{arts[0], arts[2], arts[3]})
	require.NoError(t, err)
	require.NoError(t, wait(t, c))

	unread, err := st.Headlines(ctx, model.HeadlineQuery{
		Scope:      model.Scope{Kind: model.ScopeFeed, ID: feed.ID},
		OnlyUnread: true,
	})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, arts[4].ID, unread[0].ID)
}

func TestWorker_MarkFeedReadAndUnsubscribe(t *testing.T) {
	st, d, _ := startWorker(t)
	feed, arts := seedFeed(t, st, true, true)
	ctx := context.Background()

	c, err := d.MarkFeedOrCategoryRead(ctx, model.ScopeFor(feed.ID, 0, false))
	require.NoError(t, err)
	require.NoError(t, wait(t, c))

	got, err := st.Get(ctx, arts[1].ID)
	require.NoError(t, err)
	assert.False(t, got.IsUnread)

	c, err = d.Unsubscribe(ctx, feed.ID)
	require.NoError(t, err)
	require.NoError(t, wait(t, c))

	_, err = st.Get(ctx, arts[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestWorker_HandlesApplyFailure checks that a failing job is reported back
// as failed and does not trigger a refresh.
func TestWorker_HandlesApplyFailure(t *testing.T) {
	st, d, notifier := startWorker(t)
	changes := subscribe(t, st)

	c, err := d.ToggleStarred(context.Background(), model.ArticleSummary{ID: 424242})
	require.NoError(t, err)

	err = wait(t, c)
	assert.ErrorIs(t, err, store.ErrJobFailed)
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, notifier.ch)

	select {
	case <-changes:
		t.Fatal("failed job signalled a change")
	case <-time.After(200 * time.Millisecond):
	}
}

func subscribe(t *testing.T, st *store.HybridStore) <-chan struct{} {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	changes, err := st.Subscribe(ctx)
	require.NoError(t, err)
	return changes
}

// TestWorker_SignalsChangeAfterClientLeft covers a CLI client that queues an
// update and exits before the completion comes back.
func TestWorker_SignalsChangeAfterClientLeft(t *testing.T) {
	st, _, _ := startWorker(t)
	_, arts := seedFeed(t, st, true)
	changes := subscribe(t, st)

	clientCtx, leave := context.WithCancel(context.Background())
	port, err := store.NewQueuePort(clientCtx, st, zap.NewNop())
	require.NoError(t, err)
	client := dispatch.NewDispatcher(port, &countingNotifier{ch: make(chan struct{}, 1)}, zap.NewNop())

	_, err = client.ToggleRead(clientCtx, arts[0])
	require.NoError(t, err)
	leave()

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("update applied without a change signal")
	}

	got, err := st.Get(context.Background(), arts[0].ID)
	require.NoError(t, err)
	assert.False(t, got.IsUnread)
}

func TestWorker_RejectsMalformedJobs(t *testing.T) {
	w := &Worker{logger: zap.NewNop()}
	ctx := context.Background()

	for _, job := range []model.Job{
		model.NewJob(model.JobUpdate),
		model.NewJob(model.JobMarkRead),
		model.NewJob("shrug"),
	} {
		err := w.apply(ctx, job)
		assert.True(t, errors.Is(err, ErrBadJob), "kind %s", job.Kind)
	}
}
