package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"feedkeeper/internal/queue"
)

// Scanner periodically selects feeds that are due for a fetch and enqueues
// one work item per feed. It runs as a singleton job; it never starts cycles
// itself, so the single-flight guard stays in the orchestrator's claim.
type Scanner struct {
	store    Store
	queue    Enqueuer
	interval time.Duration
}

// NewScanner creates a scanner with the given scan interval. The interval is
// also the due window: a feed is due when it has never been fetched or its
// last fetch is older than one interval.
func NewScanner(st Store, q Enqueuer, interval time.Duration) *Scanner {
	return &Scanner{
		store:    st,
		queue:    q,
		interval: interval,
	}
}

// Run scans immediately, then on every tick until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.ScanOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Due-feed scan failed")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Due-feed scan failed")
			}
		case <-ctx.Done():
			log.Info().Msg("Due-feed scanner stopping")
			return
		}
	}
}

// ScanOnce selects and enqueues all currently due feeds, returning how many
// were queued.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.interval)

	ids, err := s.store.DueFeeds(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to select due feeds: %w", err)
	}

	queued := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(queue.WorkItem{FeedID: id}, 0); err != nil {
			return queued, fmt.Errorf("failed to enqueue feed %d: %w", id, err)
		}
		queued++
	}

	if queued > 0 {
		log.Info().Int("queued", queued).Msg("Queued due feeds")
	} else {
		log.Debug().Msg("No feeds due")
	}
	return queued, nil
}
