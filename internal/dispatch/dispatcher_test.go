package dispatch

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

// MockPort records submissions and lets the test decide when they finish.
type MockPort struct {
	mu        sync.Mutex
	requests  []model.UpdateRequest
	calls     []string
	callbacks []func(error)
	SubmitErr error
}

func (m *MockPort) record(call string, done func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	m.calls = append(m.calls, call)
	m.callbacks = append(m.callbacks, done)
	return nil
}

func (m *MockPort) Submit(ctx context.Context, req model.UpdateRequest, done func(error)) error {
	if err := m.record("submit", done); err != nil {
		return err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return nil
}

func (m *MockPort) MarkFeedRead(ctx context.Context, feedID int64, done func(error)) error {
	return m.record("feed", done)
}

func (m *MockPort) MarkVirtualFeedRead(ctx context.Context, feedID int64, done func(error)) error {
	return m.record("virtual", done)
}

func (m *MockPort) MarkCategoryRead(ctx context.Context, categoryID int64, done func(error)) error {
	return m.record("category", done)
}

func (m *MockPort) Unsubscribe(ctx context.Context, feedID int64, done func(error)) error {
	return m.record("unsubscribe", done)
}

// finish completes the i-th submission.
func (m *MockPort) finish(i int, err error) {
	m.mu.Lock()
	cb := m.callbacks[i]
	m.mu.Unlock()
	cb(err)
}

type MockNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *MockNotifier) NotifyChange(ctx context.Context) error {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
	return nil
}

func (n *MockNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func setup() (*Dispatcher, *MockPort, *MockNotifier) {
	port := &MockPort{}
	notifier := &MockNotifier{}
	return NewDispatcher(port, notifier, zap.NewNop()), port, notifier
}

func waitResult(t *testing.T, c Completion) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestDispatcher_ToggleReadOnUnreadMarksRead(t *testing.T) {
	d, port, _ := setup()
	_, err := d.ToggleRead(context.Background(), model.ArticleSummary{ID: 5, IsUnread: true})
	require.NoError(t, err)

	require.Len(t, port.requests, 1)
	req := port.requests[0]
	assert.Equal(t, model.FieldRead, req.Field)
	assert.Equal(t, []int64{5}, req.Targets)
	assert.True(t, req.Value)
	assert.False(t, req.ApplyTo(model.ArticleSummary{IsUnread: true}).IsUnread)
}

func TestDispatcher_ToggleReadOnReadMarksUnread(t *testing.T) {
	d, port, _ := setup()
	_, err := d.ToggleRead(context.Background(), model.ArticleSummary{ID: 5})
	require.NoError(t, err)
	assert.False(t, port.requests[0].Value)
}

func TestDispatcher_ToggleStarredAndPublished(t *testing.T) {
	d, port, _ := setup()
	ctx := context.Background()

	_, err := d.ToggleStarred(ctx, model.ArticleSummary{ID: 1, IsStarred: true})
	require.NoError(t, err)
	_, err = d.TogglePublished(ctx, model.ArticleSummary{ID: 2})
	require.NoError(t, err)

	require.Len(t, port.requests, 2)
	assert.Equal(t, model.FieldStarred, port.requests[0].Field)
	assert.False(t, port.requests[0].Value)
	assert.Equal(t, model.FieldPublished, port.requests[1].Field)
	assert.True(t, port.requests[1].Value)
}

func TestDispatcher_SetNote(t *testing.T) {
	d, port, _ := setup()
	_, err := d.SetNote(context.Background(), model.ArticleSummary{ID: 9}, "read later")
	require.NoError(t, err)

	req := port.requests[0]
	assert.Equal(t, model.FieldNote, req.Field)
	assert.Equal(t, []int64{9}, req.Targets)
	assert.Equal(t, "read later", req.Note)
}

func TestDispatcher_MarkAboveReadIsOneRequest(t *testing.T) {
	d, port, _ := setup()
	items := []model.ArticleSummary{
		{ID: 1, IsUnread: true},
		{ID: 3, IsUnread: true},
		{ID: 4, IsUnread: true},
	}
	_, err := d.MarkAboveRead(context.Background(), items)
	require.NoError(t, err)

	require.Len(t, port.requests, 1)
	req := port.requests[0]
	assert.Equal(t, []int64{1, 3, 4}, req.Targets)
	assert.Equal(t, model.FieldRead, req.Field)
	assert.True(t, req.Value)
}

func TestDispatcher_MarkAboveReadEmpty(t *testing.T) {
	d, port, notifier := setup()
	c, err := d.MarkAboveRead(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, waitResult(t, c))
	assert.Empty(t, port.calls)
	assert.Zero(t, notifier.Count())
}

func TestDispatcher_SubmitWithoutTargets(t *testing.T) {
	d, _, _ := setup()
	_, err := d.Submit(context.Background(), model.NewFlagUpdate(model.FieldRead, true))
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestDispatcher_MarkFeedOrCategoryReadRoutesByScope(t *testing.T) {
	d, port, _ := setup()
	ctx := context.Background()

	for _, scope := range []model.Scope{
		model.ScopeFor(12, 0, false),
		model.ScopeFor(model.VirtualFresh, 0, false),
		model.ScopeFor(12, 3, true),
	} {
		_, err := d.MarkFeedOrCategoryRead(ctx, scope)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"feed", "virtual", "category"}, port.calls)

	_, err := d.MarkFeedOrCategoryRead(ctx, model.Scope{Kind: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d, port, _ := setup()
	_, err := d.Unsubscribe(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"unsubscribe"}, port.calls)
}

func TestDispatcher_CompletionNotifiesOnSuccessOnly(t *testing.T) {
	d, port, notifier := setup()
	ctx := context.Background()

	ok, err := d.ToggleRead(ctx, model.ArticleSummary{ID: 1, IsUnread: true})
	require.NoError(t, err)
	failed, err := d.ToggleStarred(ctx, model.ArticleSummary{ID: 2})
	require.NoError(t, err)

	assert.Zero(t, notifier.Count(), "nothing is refreshed before completion")

	// Completions may arrive out of order.
	boom := errors.New("server unreachable")
	port.finish(1, boom)
	port.finish(0, nil)

	assert.ErrorIs(t, waitResult(t, failed), boom)
	assert.NoError(t, waitResult(t, ok))
	assert.Equal(t, 1, notifier.Count())
}

func TestDispatcher_SubmitFailure(t *testing.T) {
	d, port, notifier := setup()
	port.SubmitErr = errors.New("queue down")

	c, err := d.ToggleRead(context.Background(), model.ArticleSummary{ID: 1})
	assert.Error(t, err)
	assert.Nil(t, c)
	assert.Zero(t, notifier.Count())
}

func TestCompletion_WaitHonoursContext(t *testing.T) {
	d, _, _ := setup()
	c, err := d.ToggleRead(context.Background(), model.ArticleSummary{ID: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}
