package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"feedkeeper/internal/database"
	"feedkeeper/internal/models"
)

// Store is the persistence layer for feeds and items. All engine mutations go
// through it; each fetch cycle's writes are applied in a single transaction.
type Store struct {
	db *database.DB
}

// NewStore creates a new store backed by the given database connection.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateFeed inserts a new subscription and fills in its assigned ID.
func (s *Store) CreateFeed(ctx context.Context, feed *models.Feed) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (name, source, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		feed.Name, feed.Source, feed.CreatedAt, feed.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted feed id: %w", err)
	}
	feed.ID = id
	return nil
}

// GetFeed fetches a single feed by ID.
func (s *Store) GetFeed(ctx context.Context, id int64) (*models.Feed, error) {
	var feed models.Feed
	err := s.db.GetContext(ctx, &feed, `SELECT * FROM feeds WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query feed %d: %w", id, err)
	}
	return &feed, nil
}

// ListFeeds returns all subscriptions, oldest first.
func (s *Store) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	feeds := []models.Feed{}
	err := s.db.SelectContext(ctx, &feeds, `SELECT * FROM feeds ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return feeds, nil
}

// DeleteFeed removes a subscription. Its items go with it via the
// foreign-key cascade.
func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feed %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimFeed atomically flips a feed to FETCHING and returns it. This is the
// single serialization point for fetch cycles: the guarded UPDATE is a
// compare-and-set, so of any number of concurrent claims exactly one wins and
// the rest get ErrAlreadyFetching. SQLite serializes writers, which makes the
// check-and-flip atomic without an explicit row lock.
func (s *Store) ClaimFeed(ctx context.Context, id int64) (*models.Feed, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET status = ?, updated_at = ?
		WHERE id = ? AND (status IS NULL OR status != ?)`,
		models.StatusFetching, time.Now().UTC(), id, models.StatusFetching)
	if err != nil {
		return nil, fmt.Errorf("failed to claim feed %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Either the feed is gone or another cycle holds it.
		var exists int
		err := s.db.GetContext(ctx, &exists, `SELECT 1 FROM feeds WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check feed %d: %w", id, err)
		}
		return nil, ErrAlreadyFetching
	}

	var feed models.Feed
	if err := s.db.GetContext(ctx, &feed, `SELECT * FROM feeds WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to load claimed feed %d: %w", id, err)
	}
	return &feed, nil
}

// FindItemsByExternalIDs returns the feed's stored items whose external IDs
// appear in ids, keyed by external ID. One batched lookup, not N queries.
func (s *Store) FindItemsByExternalIDs(ctx context.Context, feedID int64, ids []string) (map[string]models.Item, error) {
	result := make(map[string]models.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(
		`SELECT * FROM items WHERE feed_id = ? AND external_id IN (?)`, feedID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build item lookup query: %w", err)
	}

	var items []models.Item
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to look up items for feed %d: %w", feedID, err)
	}

	for _, item := range items {
		result[item.ExternalID] = item
	}
	return result, nil
}

// ApplyFetchResult persists the outcome of one fetch cycle in a single
// transaction: the feed's own fields (validators, effective source, status,
// last fetch time) together with the reconciler's inserts and updates. Any
// failure rolls the whole cycle back.
func (s *Store) ApplyFetchResult(ctx context.Context, feed *models.Feed, inserts, updates []models.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	feed.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE feeds
		SET actual_source = ?, etag = ?, last_modified = ?, status = ?,
		    last_fetch_at = ?, updated_at = ?
		WHERE id = ?`,
		feed.ActualSource, feed.ETag, feed.LastModified, feed.Status,
		feed.LastFetchAt, feed.UpdatedAt, feed.ID)
	if err != nil {
		return fmt.Errorf("failed to update feed %d: %w", feed.ID, err)
	}

	if len(inserts) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO items (feed_id, external_id, title, link, author, summary,
			                   content, published_at, updated_at, first_seen_at, read)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare item insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range inserts {
			_, err := stmt.ExecContext(ctx,
				item.FeedID, item.ExternalID, item.Title, item.Link, item.Author,
				item.Summary, item.Content, item.PublishedAt, item.UpdatedAt,
				item.FirstSeenAt, item.Read)
			if err != nil {
				return fmt.Errorf("failed to insert item %q for feed %d: %w",
					item.ExternalID, feed.ID, err)
			}
		}
	}

	for _, item := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE items
			SET title = ?, link = ?, author = ?, summary = ?, content = ?, updated_at = ?
			WHERE id = ?`,
			item.Title, item.Link, item.Author, item.Summary, item.Content,
			item.UpdatedAt, item.ID)
		if err != nil {
			return fmt.Errorf("failed to update item %d for feed %d: %w", item.ID, feed.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fetch result for feed %d: %w", feed.ID, err)
	}
	return nil
}

// DueFeeds returns IDs of feeds eligible for an automatic fetch: never fetched
// or not fetched since the cutoff, and not parked in a state that requires an
// explicit force-fetch (FETCHING, GONE, NOT_FOUND, FAILED, TRY_LATER).
func (s *Store) DueFeeds(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM feeds
		WHERE (last_fetch_at IS NULL OR last_fetch_at < ?)
		  AND (status IS NULL OR status = ?)
		ORDER BY last_fetch_at ASC, id ASC`,
		cutoff, models.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to select due feeds: %w", err)
	}
	return ids, nil
}

// ListItems returns a page of a feed's items, newest first by first-seen time.
// Pass a cursor timestamp and ID from the previous page to continue.
func (s *Store) ListItems(ctx context.Context, feedID int64, limit int, cursorTime *time.Time, cursorID *int64) ([]models.Item, error) {
	items := []models.Item{}
	var err error

	const baseQuery = `SELECT * FROM items WHERE feed_id = ? `
	const orderBy = ` ORDER BY first_seen_at DESC, id DESC LIMIT ?`

	if cursorTime != nil && cursorID != nil {
		query := baseQuery + `AND ((first_seen_at < ?) OR (first_seen_at = ? AND id < ?))` + orderBy
		err = s.db.SelectContext(ctx, &items, query,
			feedID, cursorTime.UTC(), cursorTime.UTC(), *cursorID, limit)
	} else {
		err = s.db.SelectContext(ctx, &items, baseQuery+orderBy, feedID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list items for feed %d: %w", feedID, err)
	}
	return items, nil
}

// SetItemRead flips an item's user-owned read flag.
func (s *Store) SetItemRead(ctx context.Context, itemID int64, read bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET read = ? WHERE id = ?`, read, itemID)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", itemID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
