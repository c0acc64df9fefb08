package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WorkItem is one unit of fetch work. It lives only in the queue and is never
// persisted. Attempt is the queue's native retry counter: 0 for a fresh
// enqueue, incremented by the orchestrator on each retry re-enqueue.
type WorkItem struct {
	ID         string
	FeedID     int64
	ForceFetch bool
	Attempt    int
}

// Handler processes one work item. Errors are the handler's own business;
// the queue only counts them.
type Handler func(ctx context.Context, item WorkItem) error

// Queue is an in-process task queue: a buffered channel consumed by a pool of
// workers, with delayed enqueue via timers. It stands in for an external
// broker; the contract the engine sees is Enqueue with an optional delay.
type Queue struct {
	ch      chan WorkItem
	workers int

	mu      sync.Mutex
	ctx     context.Context
	handler Handler

	wg        sync.WaitGroup
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates a queue with the given worker count and channel buffer.
func New(workers, buffer int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers * 2
	}
	return &Queue{
		ch:      make(chan WorkItem, buffer),
		workers: workers,
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (q *Queue) Start(ctx context.Context, handler Handler) {
	q.mu.Lock()
	q.ctx = ctx
	q.handler = handler
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	log.Debug().Int("workers", q.workers).Msg("Queue workers started")
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue schedules a work item, optionally after a delay. Items submitted
// after shutdown are dropped and counted, never blocked on.
func (q *Queue) Enqueue(item WorkItem, delay time.Duration) error {
	q.mu.Lock()
	ctx := q.ctx
	q.mu.Unlock()
	if ctx == nil {
		return fmt.Errorf("queue not started")
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	if delay > 0 {
		log.Debug().
			Str("work_id", item.ID).
			Int64("feed_id", item.FeedID).
			Dur("delay", delay).
			Int("attempt", item.Attempt).
			Msg("Scheduling delayed work item")
		time.AfterFunc(delay, func() {
			q.submit(ctx, item)
		})
		return nil
	}

	q.submit(ctx, item)
	return nil
}

func (q *Queue) submit(ctx context.Context, item WorkItem) {
	select {
	case q.ch <- item:
	case <-ctx.Done():
		q.dropped.Add(1)
		log.Warn().
			Str("work_id", item.ID).
			Int64("feed_id", item.FeedID).
			Msg("Dropping work item, queue shutting down")
	}
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case item := <-q.ch:
			if err := handler(ctx, item); err != nil {
				q.failed.Add(1)
			} else {
				q.processed.Add(1)
			}
		case <-ctx.Done():
			log.Debug().Msg("Queue worker exiting")
			return
		}
	}
}

// Stats returns counts of processed, failed, and dropped work items.
func (q *Queue) Stats() (processed, failed, dropped int64) {
	return q.processed.Load(), q.failed.Load(), q.dropped.Load()
}
