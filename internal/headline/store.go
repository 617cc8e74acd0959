package headline

import (
	"errors"
	"fmt"
	"sync"

	"headliner/internal/model"
)

var (
	ErrOutOfRange = errors.New("position out of range")
)

// Store holds the ordered headlines of one list.
//
// The selection snapshot freezes the id order at the moment an article is
// opened, so navigation keeps working after a refresh drops articles that
// were marked read in the meantime.
type Store struct {
	mu       sync.RWMutex
	items    []model.ArticleSummary
	snapshot []int64
	selected int64
	hasSel   bool
}

func NewStore() *Store {
	return &Store{}
}

// Replace swaps the whole list. The latest call wins.
func (s *Store) Replace(items []model.ArticleSummary) {
	next := make([]model.ArticleSummary, len(items))
	copy(next, items)

	s.mu.Lock()
	s.items = next
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ItemAt returns the article at pos or ErrOutOfRange.
func (s *Store) ItemAt(pos int) (model.ArticleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= len(s.items) {
		return model.ArticleSummary{}, fmt.Errorf("item %d of %d: %w", pos, len(s.items), ErrOutOfRange)
	}
	return s.items[pos], nil
}

// ByID finds an article in the live list.
func (s *Store) ByID(id int64) (model.ArticleSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.items {
		if a.ID == id {
			return a, true
		}
	}
	return model.ArticleSummary{}, false
}

// Items returns a copy of the live list.
func (s *Store) Items() []model.ArticleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ArticleSummary, len(s.items))
	copy(out, s.items)
	return out
}

// IDsInOrder returns the frozen snapshot while one is active, the live ids
// otherwise.
func (s *Store) IDsInOrder() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot != nil {
		out := make([]int64, len(s.snapshot))
		copy(out, s.snapshot)
		return out
	}
	return s.liveIDs()
}

func (s *Store) liveIDs() []int64 {
	ids := make([]int64, len(s.items))
	for i, a := range s.items {
		ids[i] = a.ID
	}
	return ids
}

// CaptureSelection freezes the current id order and then selects the
// article at pos. Each call replaces the previous snapshot.
func (s *Store) CaptureSelection(pos int) (model.ArticleSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= len(s.items) {
		return model.ArticleSummary{}, fmt.Errorf("select %d of %d: %w", pos, len(s.items), ErrOutOfRange)
	}
	s.snapshot = s.liveIDs()
	a := s.items[pos]
	s.selected = a.ID
	s.hasSel = true
	return a, nil
}

// Selected returns the id of the currently selected article.
func (s *Store) Selected() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.hasSel
}

// ClearSelection drops the selection and its snapshot.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.snapshot = nil
	s.selected = 0
	s.hasSel = false
	s.mu.Unlock()
}

// Neighbor returns the id offset steps away from id in IDsInOrder. It
// reports false when id is unknown or the step leaves the list.
func (s *Store) Neighbor(id int64, offset int) (int64, bool) {
	ids := s.IDsInOrder()
	for i, cur := range ids {
		if cur != id {
			continue
		}
		j := i + offset
		if j < 0 || j >= len(ids) {
			return 0, false
		}
		return ids[j], true
	}
	return 0, false
}

// UnreadAbove returns the unread articles at positions 0..pos of the live
// list, in order. pos past the end covers the whole list.
func (s *Store) UnreadAbove(pos int) []model.ArticleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ArticleSummary
	for i := 0; i <= pos && i < len(s.items); i++ {
		if s.items[i].IsUnread {
			out = append(out, s.items[i])
		}
	}
	return out
}
