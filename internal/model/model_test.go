package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeFor(t *testing.T) {
	tests := []struct {
		name      string
		feed, cat int64
		selectCat bool
		want      Scope
	}{
		{"plain feed", 12, 3, false, Scope{ScopeFeed, 12}},
		{"starred", VirtualStarred, 0, false, Scope{ScopeVirtual, VirtualStarred}},
		{"all articles", VirtualAll, 0, false, Scope{ScopeVirtual, VirtualAll}},
		{"below virtual range", -5, 0, false, Scope{ScopeFeed, -5}},
		{"category wins", VirtualFresh, 3, true, Scope{ScopeCategory, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScopeFor(tt.feed, tt.cat, tt.selectCat))
		})
	}
	assert.Equal(t, "virtual:-3", ScopeFor(VirtualFresh, 0, false).String())
}

func TestParseField(t *testing.T) {
	f, err := ParseField("starred")
	require.NoError(t, err)
	assert.Equal(t, FieldStarred, f)

	_, err = ParseField("archived")
	assert.Error(t, err)
}

func TestUpdateRequest_ApplyTo(t *testing.T) {
	a := ArticleSummary{ID: 1, IsUnread: true, Note: "old"}

	assert.False(t, NewFlagUpdate(FieldRead, true, 1).ApplyTo(a).IsUnread)
	assert.True(t, NewFlagUpdate(FieldRead, false, 1).ApplyTo(ArticleSummary{}).IsUnread)
	assert.True(t, NewFlagUpdate(FieldStarred, true, 1).ApplyTo(a).IsStarred)
	assert.True(t, NewFlagUpdate(FieldPublished, true, 1).ApplyTo(a).IsPublished)

	noted := NewNoteUpdate(1, "")
	assert.Equal(t, []int64{1}, noted.Targets)
	assert.False(t, noted.ApplyTo(a).HasNote())

	// the receiver's copy is untouched
	assert.True(t, a.IsUnread)
	assert.Equal(t, "old", a.Note)
}

func TestNewArticle(t *testing.T) {
	a := NewArticle(3, "Title", "https://x.example/1", time.Time{})
	assert.True(t, a.IsUnread)
	assert.Equal(t, int64(3), a.FeedID)
	assert.False(t, a.UpdatedAt.IsZero())
}
