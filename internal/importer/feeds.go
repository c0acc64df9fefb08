package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"feedkeeper/internal/models"
	"feedkeeper/internal/store"
)

// Importer bulk-subscribes feeds from a CSV of "name,url" rows. A header row
// is detected and skipped.
type Importer struct {
	store *store.Store
}

// NewImporter creates a new feed importer
func NewImporter(st *store.Store) *Importer {
	return &Importer{store: st}
}

// ImportFeeds imports subscriptions from a local CSV file or, when src is an
// http(s) URL, from a remote one.
func (i *Importer) ImportFeeds(ctx context.Context, src string) error {
	log.Info().Str("src", src).Msg("Starting feed import")

	reader, closer, err := i.openSource(src)
	if err != nil {
		return fmt.Errorf("failed to open CSV source: %w", err)
	}
	defer closer()

	imported, skipped, err := i.parseAndImportFeeds(ctx, reader)
	if err != nil {
		return fmt.Errorf("failed to import feeds: %w", err)
	}

	log.Info().Int("imported", imported).Int("skipped", skipped).Msg("Import completed")
	return nil
}

func (i *Importer) openSource(src string) (io.Reader, func(), error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		log.Info().Str("url", src).Msg("Downloading CSV file")
		resp, err := http.Get(src)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
		}
		return resp.Body, func() { resp.Body.Close() }, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func (i *Importer) parseAndImportFeeds(ctx context.Context, r io.Reader) (imported, skipped int, err error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1 // Tolerate ragged rows, validate below

	line := 0
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line++

		if len(record) < 2 {
			log.Warn().Int("line", line).Msg("Skipping row with fewer than 2 columns")
			skipped++
			continue
		}

		name := strings.TrimSpace(record[0])
		source := strings.TrimSpace(record[1])

		// Header row
		if line == 1 && strings.EqualFold(name, "name") && strings.EqualFold(source, "url") {
			continue
		}

		if name == "" || source == "" {
			log.Warn().Int("line", line).Msg("Skipping row with empty name or url")
			skipped++
			continue
		}
		if u, err := url.Parse(source); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			log.Warn().Int("line", line).Str("url", source).Msg("Skipping row with invalid url")
			skipped++
			continue
		}

		feed := models.NewFeed(name, source)
		if err := i.store.CreateFeed(ctx, feed); err != nil {
			return imported, skipped, fmt.Errorf("failed to insert feed %q: %w", source, err)
		}
		imported++
	}

	return imported, skipped, nil
}
