package models

import (
	"database/sql"
	"time"
)

// Feed status values. The status column is NULL until the first fetch cycle
// touches the feed, which is why Status is nullable rather than defaulted.
const (
	StatusOK       = "OK"
	StatusFetching = "FETCHING"
	StatusGone     = "GONE"
	StatusNotFound = "NOT_FOUND"
	StatusFailed   = "FAILED"
	StatusTryLater = "TRY_LATER"
)

// Feed represents a row in the 'feeds' table.
//
// Source is the URL the user subscribed with and is never overwritten.
// ActualSource is set when the origin answers with a permanent redirect and,
// once set, is the URL used for every subsequent fetch.
type Feed struct {
	ID           int64          `db:"id"`
	Name         string         `db:"name"`
	Source       string         `db:"source"`
	ActualSource sql.NullString `db:"actual_source"`
	ETag         sql.NullString `db:"etag"`
	LastModified sql.NullString `db:"last_modified"`
	Status       sql.NullString `db:"status"`
	LastFetchAt  sql.NullTime   `db:"last_fetch_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// NewFeed creates a new Feed with default values
func NewFeed(name, source string) *Feed {
	now := time.Now().UTC()
	return &Feed{
		Name:      name,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FetchURL returns the URL a fetch cycle should hit: the permanent-redirect
// override when present, the declared source otherwise.
func (f *Feed) FetchURL() string {
	if f.ActualSource.Valid {
		return f.ActualSource.String
	}
	return f.Source
}

// StatusIs reports whether the feed currently has the given status.
func (f *Feed) StatusIs(status string) bool {
	return f.Status.Valid && f.Status.String == status
}

// SetStatus records a new status value.
func (f *Feed) SetStatus(status string) {
	f.Status = sql.NullString{String: status, Valid: true}
}
