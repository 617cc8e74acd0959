package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field names the article attribute an UpdateRequest changes.
type Field string

const (
	FieldRead      Field = "read"
	FieldStarred   Field = "starred"
	FieldPublished Field = "published"
	FieldNote      Field = "note"
)

// ParseField maps a field name to a Field.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldRead, FieldStarred, FieldPublished, FieldNote:
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// UpdateRequest is one logical mutation over one or more articles.
//
// Value is the state of the named flag after the update. For FieldRead,
// true means "read", so the stored IsUnread becomes !Value. Note carries
// the text for FieldNote and is ignored otherwise.
type UpdateRequest struct {
	ID        uuid.UUID `json:"id"`
	Targets   []int64   `json:"targets"`
	Field     Field     `json:"field"`
	Value     bool      `json:"value"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFlagUpdate builds a request that sets a boolean field on all targets.
func NewFlagUpdate(field Field, value bool, targets ...int64) UpdateRequest {
	return UpdateRequest{
		ID:        uuid.New(),
		Targets:   targets,
		Field:     field,
		Value:     value,
		CreatedAt: time.Now(),
	}
}

// NewNoteUpdate builds a request that replaces the note of one article.
func NewNoteUpdate(target int64, note string) UpdateRequest {
	return UpdateRequest{
		ID:        uuid.New(),
		Targets:   []int64{target},
		Field:     FieldNote,
		Note:      note,
		CreatedAt: time.Now(),
	}
}

// ApplyTo returns a copy of a with the request applied.
func (r UpdateRequest) ApplyTo(a ArticleSummary) ArticleSummary {
	switch r.Field {
	case FieldRead:
		a.IsUnread = !r.Value
	case FieldStarred:
		a.IsStarred = r.Value
	case FieldPublished:
		a.IsPublished = r.Value
	case FieldNote:
		a.Note = r.Note
	}
	return a
}

type JobKind string

const (
	JobUpdate      JobKind = "update"
	JobMarkRead    JobKind = "mark_read"
	JobUnsubscribe JobKind = "unsubscribe"
)

// Job is the queue envelope for work handed to the worker.
type Job struct {
	ID         uuid.UUID      `json:"id"`
	Kind       JobKind        `json:"kind"`
	Request    *UpdateRequest `json:"request,omitempty"`
	Scope      *Scope         `json:"scope,omitempty"`
	FeedID     int64          `json:"feed_id,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewJob creates an empty job of the given kind with a fresh id.
func NewJob(kind JobKind) Job {
	return Job{
		ID:         uuid.New(),
		Kind:       kind,
		EnqueuedAt: time.Now(),
	}
}

// Completion is published by the worker once a job has been applied.
type Completion struct {
	JobID uuid.UUID `json:"job_id"`
	Error string    `json:"error,omitempty"`
}
