package headline

import (
	"fmt"
	"math"
	"time"

	"headliner/internal/model"
)

type timeUnit struct {
	suffix  string
	seconds float64
}

// Months and years are fixed at 30 and 365 days.
var timeUnits = []timeUnit{
	{"m", 60},
	{"h", 3600},
	{"d", 86400},
	{"w", 7 * 86400},
	{"M", 30 * 86400},
	{"y", 365 * 86400},
}

// AgeLabel formats the age of updated relative to now as "[<n><unit>]",
// using the smallest unit whose rounded count is below 10. Ages of ten
// years or more get no label.
func AgeLabel(updated, now time.Time) string {
	age := math.Abs(now.Sub(updated).Seconds())
	for _, u := range timeUnits {
		n := math.Round(age / u.seconds)
		if n < 10 {
			return fmt.Sprintf("[%d%s]", int64(n), u.suffix)
		}
	}
	return ""
}

const (
	unreadMarker = "◯ "
	readMarker   = "⬤ "
)

// DisplayTitle is the headline text: read marker, age label, title.
func DisplayTitle(a model.ArticleSummary, now time.Time) string {
	title := readMarker
	if a.IsUnread {
		title = unreadMarker
	}
	if label := AgeLabel(a.UpdatedAt, now); label != "" {
		title += label + " "
	}
	return title + a.Title
}

type Icon string

const (
	IconStarredPublished Icon = "starred_published"
	IconStarred          Icon = "starred"
	IconPublished        Icon = "published"
	IconUnread           Icon = "unread"
	IconRead             Icon = "read"
)

// IconFor picks the state icon for a headline row.
func IconFor(a model.ArticleSummary) Icon {
	switch {
	case a.IsStarred && a.IsPublished:
		return IconStarredPublished
	case a.IsStarred:
		return IconStarred
	case a.IsPublished:
		return IconPublished
	case a.IsUnread:
		return IconUnread
	default:
		return IconRead
	}
}

// Row is a headline prepared for display.
type Row struct {
	Article      model.ArticleSummary `json:"article"`
	Label        string               `json:"label"`
	DisplayTitle string               `json:"display_title"`
	Icon         Icon                 `json:"icon"`
}

// Rows formats items for display at the given instant.
func Rows(items []model.ArticleSummary, now time.Time) []Row {
	rows := make([]Row, 0, len(items))
	for _, a := range items {
		rows = append(rows, Row{
			Article:      a,
			Label:        AgeLabel(a.UpdatedAt, now),
			DisplayTitle: DisplayTitle(a, now),
			Icon:         IconFor(a),
		})
	}
	return rows
}
