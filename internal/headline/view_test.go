package headline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"headliner/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu      sync.Mutex
	items   []model.ArticleSummary
	err     error
	queries []model.HeadlineQuery
	changes chan struct{}
}

func (f *fakeSource) Headlines(ctx context.Context, q model.HeadlineQuery) ([]model.ArticleSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.items, f.err
}

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	return f.changes, nil
}

func (f *fakeSource) set(items []model.ArticleSummary) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func TestView_Refresh(t *testing.T) {
	src := &fakeSource{items: articles(true, false)}
	q := model.HeadlineQuery{Scope: model.Scope{Kind: model.ScopeFeed, ID: 7}, OnlyUnread: true}
	v := NewView(src, q, zap.NewNop())

	require.NoError(t, v.Refresh(context.Background()))
	assert.Equal(t, 2, v.Store.Len())
	assert.Equal(t, []model.HeadlineQuery{q}, src.queries)
}

func TestView_RefreshErrorKeepsList(t *testing.T) {
	src := &fakeSource{items: articles(true)}
	v := NewView(src, model.HeadlineQuery{}, zap.NewNop())
	require.NoError(t, v.Refresh(context.Background()))

	src.err = errors.New("disk on fire")
	assert.Error(t, v.Refresh(context.Background()))
	assert.Equal(t, 1, v.Store.Len())
}

func TestView_WatchReloadsOnChange(t *testing.T) {
	src := &fakeSource{items: articles(true, true, true), changes: make(chan struct{}, 1)}
	v := NewView(src, model.HeadlineQuery{}, zap.NewNop())
	require.NoError(t, v.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		v.Watch(ctx)
		close(stopped)
	}()

	src.set(articles(true))
	src.changes <- struct{}{}

	assert.Eventually(t, func() bool { return v.Store.Len() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestView_OpenLoadsThenFollows(t *testing.T) {
	src := &fakeSource{items: articles(true, true), changes: make(chan struct{}, 1)}
	v := NewView(src, model.HeadlineQuery{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, v.Open(ctx))
	assert.Equal(t, 2, v.Store.Len())

	src.set(nil)
	src.changes <- struct{}{}
	assert.Eventually(t, func() bool { return v.Store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestView_OpenFailsWhenLoadFails(t *testing.T) {
	src := &fakeSource{err: errors.New("gone"), changes: make(chan struct{})}
	v := NewView(src, model.HeadlineQuery{}, zap.NewNop())
	assert.Error(t, v.Open(context.Background()))
}
