package engine

import (
	"database/sql"
	"time"

	"feedkeeper/internal/fetch"
	"feedkeeper/internal/models"
)

// Reconciler merges a batch of freshly fetched entries into a feed's stored
// item set. It only plans; the store applies the plan atomically together
// with the feed's own field updates.
type Reconciler struct{}

// Plan decides, for each fetched entry, whether it becomes an insert, an
// in-place update, or nothing.
//
// An entry not seen before is inserted with first_seen_at = now and
// updated_at taken from the origin when present, now otherwise. An entry
// already stored is updated only when the origin supplies an updated
// timestamp that strictly advances past the stored one; anything else is a
// skip, so re-fetching unchanged content never churns storage. Entries absent
// from the batch are left alone: origins drop older entries for pagination,
// absence is not deletion.
func (Reconciler) Plan(feedID int64, existing map[string]models.Item, entries []fetch.Entry, now time.Time) (inserts, updates []models.Item) {
	// A batch may (bogusly) repeat an external id; last occurrence wins.
	deduped := dedupeEntries(entries)

	for _, entry := range deduped {
		stored, found := existing[entry.ExternalID]
		if !found {
			inserts = append(inserts, newItem(feedID, entry, now))
			continue
		}

		// No update signal from the origin means no update.
		if entry.UpdatedAt == nil || !entry.UpdatedAt.After(stored.UpdatedAt) {
			continue
		}

		stored.Title = nullString(entry.Title)
		stored.Link = nullString(entry.Link)
		stored.Author = nullString(entry.Author)
		stored.Summary = nullString(entry.Summary)
		stored.Content = entry.Content
		stored.UpdatedAt = entry.UpdatedAt.UTC()
		updates = append(updates, stored)
	}

	return inserts, updates
}

// dedupeEntries keeps the last occurrence of each external id, preserving the
// traversal order of those last occurrences.
func dedupeEntries(entries []fetch.Entry) []fetch.Entry {
	last := make(map[string]int, len(entries))
	for i, entry := range entries {
		last[entry.ExternalID] = i
	}
	if len(last) == len(entries) {
		return entries
	}

	deduped := make([]fetch.Entry, 0, len(last))
	for i, entry := range entries {
		if last[entry.ExternalID] == i {
			deduped = append(deduped, entry)
		}
	}
	return deduped
}

func newItem(feedID int64, entry fetch.Entry, now time.Time) models.Item {
	item := models.Item{
		FeedID:      feedID,
		ExternalID:  entry.ExternalID,
		Title:       nullString(entry.Title),
		Link:        nullString(entry.Link),
		Author:      nullString(entry.Author),
		Summary:     nullString(entry.Summary),
		Content:     entry.Content,
		UpdatedAt:   now,
		FirstSeenAt: now,
	}
	if entry.PublishedAt != nil {
		item.PublishedAt = sql.NullTime{Time: entry.PublishedAt.UTC(), Valid: true}
	}
	if entry.UpdatedAt != nil {
		item.UpdatedAt = entry.UpdatedAt.UTC()
	}
	return item
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
