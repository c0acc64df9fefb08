package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"feedkeeper/internal/models"
)

// Entry is one parsed feed entry, normalized from whatever format the origin
// publishes. Timestamps are nil when the origin did not supply them.
type Entry struct {
	ExternalID  string
	Title       string
	Link        string
	Author      string
	Summary     string
	Content     models.ContentList
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// Result is the normalized outcome of one conditional GET.
type Result struct {
	FinalURL          string
	StatusCode        int
	NotModified       bool
	PermanentRedirect bool
	ETag              string
	LastModified      string
	Entries           []Entry

	// ParseErr is set when the origin answered with a body that the feed
	// parser rejected. Transport-level failures are returned as errors from
	// Fetch instead.
	ParseErr error
}

// Config holds settings for the fetcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxItems  int
}

// Fetcher issues conditional GETs against feed origins and parses the
// responses. It performs exactly one outbound request per Fetch call and
// never retries; retry is a policy decision made by the orchestrator.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
	cfg    Config
}

// New creates a fetcher with the given configuration.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		parser: gofeed.NewParser(),
		cfg:    cfg,
	}
}

// Fetch performs a single conditional GET of url. The etag and lastModified
// validators are replayed to the origin so it may answer 304; when force is
// true they are omitted and the origin always sends a full body.
//
// A non-nil error means the request never produced an HTTP response
// (DNS, connect, timeout). HTTP-level failures come back in the Result.
func (f *Fetcher) Fetch(ctx context.Context, url, etag, lastModified string, force bool) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	if !force {
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}
	}

	// The redirect chain is inspected per request, so work on a copy of the
	// shared client.
	permanent := false
	client := *f.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if resp := req.Response; resp != nil &&
			(resp.StatusCode == http.StatusMovedPermanently ||
				resp.StatusCode == http.StatusPermanentRedirect) {
			permanent = true
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	result := &Result{
		FinalURL:          resp.Request.URL.String(),
		StatusCode:        resp.StatusCode,
		PermanentRedirect: permanent,
		ETag:              resp.Header.Get("ETag"),
		LastModified:      resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, nil
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		result.ParseErr = fmt.Errorf("failed to parse feed body: %w", err)
		return result, nil
	}

	for _, item := range parsed.Items {
		if f.cfg.MaxItems > 0 && len(result.Entries) >= f.cfg.MaxItems {
			log.Debug().
				Str("url", url).
				Int("max_items", f.cfg.MaxItems).
				Msg("Truncating oversized feed")
			break
		}
		entry, ok := processItem(item)
		if !ok {
			log.Debug().Str("url", url).Str("title", item.Title).Msg("Skipping entry without id or link")
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

// processItem normalizes one gofeed item. Entries with neither a GUID nor a
// link are unusable: there is nothing stable to key them on.
func processItem(item *gofeed.Item) (Entry, bool) {
	externalID := item.GUID
	if externalID == "" {
		externalID = item.Link
	}
	if externalID == "" {
		return Entry{}, false
	}

	entry := Entry{
		ExternalID:  externalID,
		Title:       item.Title,
		Link:        item.Link,
		Summary:     item.Description,
		PublishedAt: item.PublishedParsed,
		UpdatedAt:   item.UpdatedParsed,
	}

	if item.Author != nil {
		entry.Author = item.Author.Name
	}
	if item.Content != "" {
		entry.Content = models.ContentList{
			{ContentType: "text/html", Value: item.Content},
		}
	}

	return entry, true
}
