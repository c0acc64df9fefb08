package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ItemContent is one piece of an entry's body. Origins may publish several
// alternative renderings (e.g. text/plain and text/html) in a fixed order.
type ItemContent struct {
	ContentType string `json:"content_type"`
	Value       string `json:"value"`
}

// ContentList is stored as a JSON column, same shape the origin delivered it in.
type ContentList []ItemContent

// Value implements driver.Valuer for persisting the content list as JSON.
func (c ContentList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for reading the JSON content column.
func (c *ContentList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("cannot scan %T into ContentList", src)
	}
}

// Item represents a row in the 'items' table.
//
// ExternalID is the origin-assigned identifier, unique per feed but not
// globally. FirstSeenAt is assigned on insert and never changes. Read is
// user-owned and never touched by the sync engine.
type Item struct {
	ID          int64          `db:"id"`
	FeedID      int64          `db:"feed_id"`
	ExternalID  string         `db:"external_id"`
	Title       sql.NullString `db:"title"`
	Link        sql.NullString `db:"link"`
	Author      sql.NullString `db:"author"`
	Summary     sql.NullString `db:"summary"`
	Content     ContentList    `db:"content"`
	PublishedAt sql.NullTime   `db:"published_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	FirstSeenAt time.Time      `db:"first_seen_at"`
	Read        bool           `db:"read"`
}
