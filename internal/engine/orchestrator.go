package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"feedkeeper/internal/fetch"
	"feedkeeper/internal/models"
	"feedkeeper/internal/queue"
	"feedkeeper/internal/store"
)

// Store is the persistence contract the engine consumes.
type Store interface {
	ClaimFeed(ctx context.Context, id int64) (*models.Feed, error)
	GetFeed(ctx context.Context, id int64) (*models.Feed, error)
	FindItemsByExternalIDs(ctx context.Context, feedID int64, ids []string) (map[string]models.Item, error)
	ApplyFetchResult(ctx context.Context, feed *models.Feed, inserts, updates []models.Item) error
	DueFeeds(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// Fetcher performs one conditional GET per call.
type Fetcher interface {
	Fetch(ctx context.Context, url, etag, lastModified string, force bool) (*fetch.Result, error)
}

// Enqueuer schedules fetch work, optionally delayed.
type Enqueuer interface {
	Enqueue(item queue.WorkItem, delay time.Duration) error
}

// Orchestrator drives one feed's fetch-classify-reconcile-persist cycle. It
// is the only entry point that starts cycles, for both the periodic scanner
// and on-demand force-fetch, so the single-flight guarantee is enforced in
// exactly one place: the store's claim.
type Orchestrator struct {
	store      Store
	fetcher    Fetcher
	queue      Enqueuer
	retry      RetryPolicy
	reconciler Reconciler
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(st Store, fetcher Fetcher, q Enqueuer) *Orchestrator {
	return &Orchestrator{
		store:   st,
		fetcher: fetcher,
		queue:   q,
	}
}

// ForceFetch enqueues an unconditional fetch of the feed, bypassing cache
// validators. It fails with store.ErrAlreadyFetching while a cycle is in
// flight and store.ErrNotFound for unknown feeds.
func (o *Orchestrator) ForceFetch(ctx context.Context, feedID int64) error {
	feed, err := o.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if feed.StatusIs(models.StatusFetching) {
		return store.ErrAlreadyFetching
	}

	return o.queue.Enqueue(queue.WorkItem{FeedID: feedID, ForceFetch: true}, 0)
}

// RunCycle executes one fetch cycle for the work item's feed.
//
// The cycle claims the feed (flipping it to FETCHING), performs the
// conditional fetch, classifies the outcome, and ends every branch by
// persisting an explicit feed status. TRY_LATER outcomes consult the retry
// policy and re-enqueue the same feed with the attempt counter bumped.
func (o *Orchestrator) RunCycle(ctx context.Context, item queue.WorkItem) error {
	logger := log.With().
		Str("work_id", item.ID).
		Int64("feed_id", item.FeedID).
		Int("attempt", item.Attempt).
		Logger()

	feed, err := o.store.ClaimFeed(ctx, item.FeedID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyFetching) {
			logger.Warn().Msg("Feed already being fetched, aborting cycle")
			return err
		}
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Msg("Feed no longer exists, dropping work item")
			return err
		}
		return fmt.Errorf("failed to claim feed %d: %w", item.FeedID, err)
	}

	url := feed.FetchURL()
	logger.Info().Str("url", url).Bool("force", item.ForceFetch).Msg("Fetching feed")

	result, fetchErr := o.fetcher.Fetch(ctx, url, feed.ETag.String, feed.LastModified.String, item.ForceFetch)
	outcome := fetch.Classify(result, fetchErr)
	if fetchErr != nil {
		logger.Warn().Err(fetchErr).Stringer("outcome", outcome).Msg("Feed fetch failed")
	} else {
		logger.Debug().Stringer("outcome", outcome).Int("status_code", result.StatusCode).Msg("Fetch classified")
	}

	now := time.Now().UTC()
	feed.LastFetchAt = sql.NullTime{Time: now, Valid: true}

	switch outcome {
	case fetch.OutcomeNoChange:
		feed.SetStatus(models.StatusOK)
		if err := o.store.ApplyFetchResult(ctx, feed, nil, nil); err != nil {
			return fmt.Errorf("failed to persist no-change cycle: %w", err)
		}
		logger.Info().Msg("Feed unchanged")
		return nil

	case fetch.OutcomeFetched, fetch.OutcomePermanentRedirect:
		if outcome == fetch.OutcomePermanentRedirect {
			feed.ActualSource = sql.NullString{String: result.FinalURL, Valid: true}
			logger.Info().Str("new_url", result.FinalURL).Msg("Feed moved permanently, updating effective source")
		}
		feed.ETag = nullString(result.ETag)
		feed.LastModified = nullString(result.LastModified)
		feed.SetStatus(models.StatusOK)

		inserts, updates, err := o.reconcile(ctx, feed, result.Entries, now)
		if err != nil {
			return err
		}
		logger.Info().
			Int("entries", len(result.Entries)).
			Int("inserted", inserts).
			Int("updated", updates).
			Msg("Feed reconciled")
		return nil

	case fetch.OutcomeGone:
		return o.finish(ctx, feed, models.StatusGone, logger)

	case fetch.OutcomeNotFound:
		return o.finish(ctx, feed, models.StatusNotFound, logger)

	case fetch.OutcomeGenericError:
		return o.finish(ctx, feed, models.StatusFailed, logger)

	case fetch.OutcomeTryLater:
		feed.SetStatus(models.StatusTryLater)
		if err := o.store.ApplyFetchResult(ctx, feed, nil, nil); err != nil {
			return fmt.Errorf("failed to persist try-later cycle: %w", err)
		}

		delay, ok := o.retry.NextDelay(item.Attempt)
		if !ok {
			logger.Warn().Msg("Retry attempts exhausted, marking feed failed")
			return o.finish(ctx, feed, models.StatusFailed, logger)
		}

		logger.Info().Dur("delay", delay).Msg("Scheduling retry")
		return o.queue.Enqueue(queue.WorkItem{
			FeedID:     item.FeedID,
			ForceFetch: item.ForceFetch,
			Attempt:    item.Attempt + 1,
		}, delay)

	default:
		return fmt.Errorf("unhandled fetch outcome %v for feed %d", outcome, feed.ID)
	}
}

// reconcile runs the merge for outcomes that carry entries and persists the
// whole cycle in one transaction.
func (o *Orchestrator) reconcile(ctx context.Context, feed *models.Feed, entries []fetch.Entry, now time.Time) (inserted, updated int, err error) {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ExternalID)
	}

	existing, err := o.store.FindItemsByExternalIDs(ctx, feed.ID, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load existing items for feed %d: %w", feed.ID, err)
	}

	inserts, updates := o.reconciler.Plan(feed.ID, existing, entries, now)
	if err := o.store.ApplyFetchResult(ctx, feed, inserts, updates); err != nil {
		return 0, 0, fmt.Errorf("failed to apply fetch result for feed %d: %w", feed.ID, err)
	}
	return len(inserts), len(updates), nil
}

// finish persists a terminal status for the cycle. No retry follows.
func (o *Orchestrator) finish(ctx context.Context, feed *models.Feed, status string, logger zerolog.Logger) error {
	feed.SetStatus(status)
	if err := o.store.ApplyFetchResult(ctx, feed, nil, nil); err != nil {
		return fmt.Errorf("failed to persist %s cycle: %w", status, err)
	}
	logger.Info().Str("status", status).Msg("Fetch cycle ended")
	return nil
}
