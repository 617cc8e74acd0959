package model

import "fmt"

type ScopeKind string

const (
	ScopeFeed     ScopeKind = "feed"
	ScopeVirtual  ScopeKind = "virtual"
	ScopeCategory ScopeKind = "category"
)

// Virtual feeds aggregate articles across subscriptions.
const (
	VirtualStarred   int64 = -1
	VirtualPublished int64 = -2
	VirtualFresh     int64 = -3
	VirtualAll       int64 = -4
)

// IsVirtualFeed reports whether id names one of the virtual feeds.
func IsVirtualFeed(id int64) bool {
	return id >= VirtualAll && id < 0
}

// Scope selects the set of articles a headline list shows.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   int64     `json:"id"`
}

// ScopeFor resolves the scope of a headline list. Listing a whole category
// wins over the feed id; negative feed ids in the virtual range are virtual
// feeds.
func ScopeFor(feedID, categoryID int64, selectForCategory bool) Scope {
	switch {
	case selectForCategory:
		return Scope{Kind: ScopeCategory, ID: categoryID}
	case IsVirtualFeed(feedID):
		return Scope{Kind: ScopeVirtual, ID: feedID}
	default:
		return Scope{Kind: ScopeFeed, ID: feedID}
	}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// HeadlineQuery describes what a headline list asks its source for.
type HeadlineQuery struct {
	Scope       Scope `json:"scope"`
	OnlyUnread  bool  `json:"only_unread"`
	OldestFirst bool  `json:"oldest_first"`
}
