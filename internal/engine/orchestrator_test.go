package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"feedkeeper/internal/fetch"
	"feedkeeper/internal/models"
	"feedkeeper/internal/queue"
	"feedkeeper/internal/store"
)

type appliedResult struct {
	feed    models.Feed
	inserts []models.Item
	updates []models.Item
}

type fakeStore struct {
	feeds   map[int64]*models.Feed
	items   map[int64]map[string]models.Item
	applied []appliedResult

	applyErr error
}

func newFakeStore(feeds ...*models.Feed) *fakeStore {
	fs := &fakeStore{
		feeds: make(map[int64]*models.Feed),
		items: make(map[int64]map[string]models.Item),
	}
	for _, f := range feeds {
		fs.feeds[f.ID] = f
	}
	return fs
}

func (fs *fakeStore) ClaimFeed(ctx context.Context, id int64) (*models.Feed, error) {
	feed, ok := fs.feeds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if feed.StatusIs(models.StatusFetching) {
		return nil, store.ErrAlreadyFetching
	}
	feed.SetStatus(models.StatusFetching)
	cp := *feed
	return &cp, nil
}

func (fs *fakeStore) GetFeed(ctx context.Context, id int64) (*models.Feed, error) {
	feed, ok := fs.feeds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *feed
	return &cp, nil
}

func (fs *fakeStore) FindItemsByExternalIDs(ctx context.Context, feedID int64, ids []string) (map[string]models.Item, error) {
	result := make(map[string]models.Item)
	for _, id := range ids {
		if item, ok := fs.items[feedID][id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (fs *fakeStore) ApplyFetchResult(ctx context.Context, feed *models.Feed, inserts, updates []models.Item) error {
	if fs.applyErr != nil {
		return fs.applyErr
	}
	fs.applied = append(fs.applied, appliedResult{feed: *feed, inserts: inserts, updates: updates})
	cp := *feed
	fs.feeds[feed.ID] = &cp
	return nil
}

func (fs *fakeStore) DueFeeds(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	for id, feed := range fs.feeds {
		due := !feed.LastFetchAt.Valid || feed.LastFetchAt.Time.Before(cutoff)
		eligible := !feed.Status.Valid || feed.StatusIs(models.StatusOK)
		if due && eligible {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fetchCall struct {
	url          string
	etag         string
	lastModified string
	force        bool
}

type fakeFetcher struct {
	calls  []fetchCall
	result *fetch.Result
	err    error
}

func (ff *fakeFetcher) Fetch(ctx context.Context, url, etag, lastModified string, force bool) (*fetch.Result, error) {
	ff.calls = append(ff.calls, fetchCall{url: url, etag: etag, lastModified: lastModified, force: force})
	return ff.result, ff.err
}

type enqueueCall struct {
	item  queue.WorkItem
	delay time.Duration
}

type fakeQueue struct {
	calls []enqueueCall
}

func (fq *fakeQueue) Enqueue(item queue.WorkItem, delay time.Duration) error {
	fq.calls = append(fq.calls, enqueueCall{item: item, delay: delay})
	return nil
}

func testFeed(id int64) *models.Feed {
	return &models.Feed{
		ID:     id,
		Name:   "test feed",
		Source: "https://example.com/feed.xml",
	}
}

func lastApplied(t *testing.T, fs *fakeStore) appliedResult {
	t.Helper()
	if len(fs.applied) == 0 {
		t.Fatal("nothing was persisted")
	}
	return fs.applied[len(fs.applied)-1]
}

func TestRunCycleFirstFetchInsertsEntries(t *testing.T) {
	fs := newFakeStore(testFeed(1))
	ff := &fakeFetcher{result: &fetch.Result{
		FinalURL:     "https://example.com/feed.xml",
		StatusCode:   200,
		ETag:         `"v1"`,
		LastModified: "Mon, 02 Jan 2026 15:04:05 GMT",
		Entries: []fetch.Entry{
			{ExternalID: "a", Title: "one"},
			{ExternalID: "b", Title: "two"},
		},
	}}
	fq := &fakeQueue{}
	orch := NewOrchestrator(fs, ff, fq)

	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if len(ff.calls) != 1 {
		t.Fatalf("expected exactly one fetch, got %d", len(ff.calls))
	}
	if ff.calls[0].etag != "" || ff.calls[0].lastModified != "" {
		t.Error("first fetch must not send validators")
	}

	got := lastApplied(t, fs)
	if !got.feed.StatusIs(models.StatusOK) {
		t.Errorf("status = %v, want OK", got.feed.Status)
	}
	if !got.feed.LastFetchAt.Valid {
		t.Error("last fetch time must be set")
	}
	if got.feed.ETag.String != `"v1"` {
		t.Errorf("etag = %q, want recorded validator", got.feed.ETag.String)
	}
	if len(got.inserts) != 2 || len(got.updates) != 0 {
		t.Errorf("got %d inserts, %d updates, want 2 inserts", len(got.inserts), len(got.updates))
	}
	if len(fq.calls) != 0 {
		t.Errorf("successful cycle must not enqueue anything, got %d", len(fq.calls))
	}
}

func TestRunCycleSendsStoredValidators(t *testing.T) {
	feed := testFeed(1)
	feed.ETag = sql.NullString{String: `"v1"`, Valid: true}
	feed.LastModified = sql.NullString{String: "Mon, 02 Jan 2026 15:04:05 GMT", Valid: true}

	fs := newFakeStore(feed)
	ff := &fakeFetcher{result: &fetch.Result{NotModified: true, StatusCode: 304}}
	orch := NewOrchestrator(fs, ff, &fakeQueue{})

	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	call := ff.calls[0]
	if call.etag != `"v1"` || call.lastModified != "Mon, 02 Jan 2026 15:04:05 GMT" {
		t.Errorf("validators not replayed: %+v", call)
	}

	got := lastApplied(t, fs)
	if !got.feed.StatusIs(models.StatusOK) {
		t.Errorf("status = %v, want OK", got.feed.Status)
	}
	if !got.feed.LastFetchAt.Valid {
		t.Error("no-change cycle must still advance last fetch time")
	}
	if got.feed.ETag.String != `"v1"` {
		t.Error("no-change cycle must not clobber stored validators")
	}
	if len(got.inserts) != 0 || len(got.updates) != 0 {
		t.Error("no-change cycle must not mutate items")
	}
}

func TestRunCycleForceFetchOmitsValidators(t *testing.T) {
	feed := testFeed(1)
	feed.ETag = sql.NullString{String: `"v1"`, Valid: true}

	fs := newFakeStore(feed)
	ff := &fakeFetcher{result: &fetch.Result{StatusCode: 200}}
	orch := NewOrchestrator(fs, ff, &fakeQueue{})

	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1, ForceFetch: true}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if !ff.calls[0].force {
		t.Error("force flag must reach the fetcher")
	}
}

func TestRunCyclePermanentRedirectUpdatesEffectiveSource(t *testing.T) {
	fs := newFakeStore(testFeed(1))
	ff := &fakeFetcher{result: &fetch.Result{
		FinalURL:          "https://moved.example.com/feed.xml",
		StatusCode:        200,
		PermanentRedirect: true,
		Entries:           []fetch.Entry{{ExternalID: "a"}},
	}}
	orch := NewOrchestrator(fs, ff, &fakeQueue{})

	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	got := lastApplied(t, fs)
	if got.feed.ActualSource.String != "https://moved.example.com/feed.xml" {
		t.Errorf("effective source = %q, want redirect target", got.feed.ActualSource.String)
	}
	if got.feed.Source != "https://example.com/feed.xml" {
		t.Error("declared source must never be overwritten")
	}
	if len(got.inserts) != 1 {
		t.Errorf("redirect outcome still carries entries, got %d inserts", len(got.inserts))
	}

	// The next cycle must hit the new URL.
	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1}); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if ff.calls[1].url != "https://moved.example.com/feed.xml" {
		t.Errorf("second fetch hit %q, want effective source", ff.calls[1].url)
	}
}

func TestRunCycleTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantStatus string
	}{
		{"gone", 410, models.StatusGone},
		{"not found", 404, models.StatusNotFound},
		{"forbidden", 403, models.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore(testFeed(1))
			ff := &fakeFetcher{result: &fetch.Result{StatusCode: tt.statusCode}}
			fq := &fakeQueue{}
			orch := NewOrchestrator(fs, ff, fq)

			if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1}); err != nil {
				t.Fatalf("RunCycle failed: %v", err)
			}

			got := lastApplied(t, fs)
			if !got.feed.StatusIs(tt.wantStatus) {
				t.Errorf("status = %v, want %s", got.feed.Status, tt.wantStatus)
			}
			if !got.feed.LastFetchAt.Valid {
				t.Error("terminal cycle must still record last fetch time")
			}
			if len(got.inserts) != 0 {
				t.Error("terminal outcome must not process entries")
			}
			if len(fq.calls) != 0 {
				t.Error("terminal outcome must not schedule a retry")
			}
		})
	}
}

func TestRunCycleTryLaterRetrySchedule(t *testing.T) {
	tests := []struct {
		attempt   int
		wantDelay time.Duration
	}{
		{0, 120 * time.Second},
		{1, 300 * time.Second},
		{2, 480 * time.Second},
	}

	for _, tt := range tests {
		fs := newFakeStore(testFeed(1))
		ff := &fakeFetcher{result: &fetch.Result{StatusCode: 503}}
		fq := &fakeQueue{}
		orch := NewOrchestrator(fs, ff, fq)

		if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1, Attempt: tt.attempt}); err != nil {
			t.Fatalf("RunCycle failed: %v", err)
		}

		got := lastApplied(t, fs)
		if !got.feed.StatusIs(models.StatusTryLater) {
			t.Errorf("attempt %d: status = %v, want TRY_LATER", tt.attempt, got.feed.Status)
		}
		if len(fq.calls) != 1 {
			t.Fatalf("attempt %d: expected one retry enqueue, got %d", tt.attempt, len(fq.calls))
		}
		call := fq.calls[0]
		if call.delay != tt.wantDelay {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, call.delay, tt.wantDelay)
		}
		if call.item.Attempt != tt.attempt+1 {
			t.Errorf("attempt %d: re-enqueued attempt = %d, want %d", tt.attempt, call.item.Attempt, tt.attempt+1)
		}
		if call.item.FeedID != 1 {
			t.Errorf("retry must target the same feed, got %d", call.item.FeedID)
		}
	}
}

func TestRunCycleTryLaterExhaustedMarksFailed(t *testing.T) {
	fs := newFakeStore(testFeed(1))
	ff := &fakeFetcher{result: &fetch.Result{StatusCode: 503}}
	fq := &fakeQueue{}
	orch := NewOrchestrator(fs, ff, fq)

	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1, Attempt: 3}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	got := lastApplied(t, fs)
	if !got.feed.StatusIs(models.StatusFailed) {
		t.Errorf("status = %v, want FAILED after exhausted retries", got.feed.Status)
	}
	if len(fq.calls) != 0 {
		t.Error("exhausted retries must not re-enqueue")
	}
}

func TestRunCycleTransportErrorIsTransient(t *testing.T) {
	fs := newFakeStore(testFeed(1))
	ff := &fakeFetcher{err: errors.New("dial tcp: i/o timeout")}
	fq := &fakeQueue{}
	orch := NewOrchestrator(fs, ff, fq)

	if err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1}); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	got := lastApplied(t, fs)
	if !got.feed.StatusIs(models.StatusTryLater) {
		t.Errorf("status = %v, want TRY_LATER", got.feed.Status)
	}
	if len(fq.calls) != 1 || fq.calls[0].delay != 120*time.Second {
		t.Errorf("expected first retry at 120s, got %+v", fq.calls)
	}
}

func TestRunCycleAlreadyFetchingAborts(t *testing.T) {
	feed := testFeed(1)
	feed.SetStatus(models.StatusFetching)

	fs := newFakeStore(feed)
	ff := &fakeFetcher{}
	orch := NewOrchestrator(fs, ff, &fakeQueue{})

	err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1})
	if !errors.Is(err, store.ErrAlreadyFetching) {
		t.Fatalf("err = %v, want ErrAlreadyFetching", err)
	}
	if len(ff.calls) != 0 {
		t.Error("an aborted cycle must not call the fetcher")
	}
	if len(fs.applied) != 0 {
		t.Error("an aborted cycle must not persist anything")
	}
}

func TestRunCycleUnknownFeed(t *testing.T) {
	fs := newFakeStore()
	orch := NewOrchestrator(fs, &fakeFetcher{}, &fakeQueue{})

	err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 42})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestForceFetch(t *testing.T) {
	fs := newFakeStore(testFeed(1))
	fq := &fakeQueue{}
	orch := NewOrchestrator(fs, &fakeFetcher{}, fq)

	if err := orch.ForceFetch(context.Background(), 1); err != nil {
		t.Fatalf("ForceFetch failed: %v", err)
	}
	if len(fq.calls) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(fq.calls))
	}
	if !fq.calls[0].item.ForceFetch || fq.calls[0].item.FeedID != 1 {
		t.Errorf("unexpected work item: %+v", fq.calls[0].item)
	}
	if fq.calls[0].delay != 0 {
		t.Errorf("force fetch must be immediate, got delay %v", fq.calls[0].delay)
	}
}

func TestForceFetchConflicts(t *testing.T) {
	feed := testFeed(1)
	feed.SetStatus(models.StatusFetching)

	fs := newFakeStore(feed)
	fq := &fakeQueue{}
	orch := NewOrchestrator(fs, &fakeFetcher{}, fq)

	err := orch.ForceFetch(context.Background(), 1)
	if !errors.Is(err, store.ErrAlreadyFetching) {
		t.Fatalf("err = %v, want ErrAlreadyFetching", err)
	}
	if len(fq.calls) != 0 {
		t.Error("conflicting force fetch must not enqueue work")
	}

	if err := orch.ForceFetch(context.Background(), 2); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for unknown feed", err)
	}
}

func TestRunCycleReconciliationFailurePropagates(t *testing.T) {
	fs := newFakeStore(testFeed(1))
	fs.applyErr = errors.New("disk full")
	ff := &fakeFetcher{result: &fetch.Result{StatusCode: 200, Entries: []fetch.Entry{{ExternalID: "a"}}}}
	orch := NewOrchestrator(fs, ff, &fakeQueue{})

	err := orch.RunCycle(context.Background(), queue.WorkItem{FeedID: 1})
	if err == nil {
		t.Fatal("expected storage failure to surface")
	}
}
