package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"feedkeeper/internal/models"
	"feedkeeper/internal/server/pagination"
	"feedkeeper/internal/store"
)

const defaultLimit = 100
const maxLimit = 1000

// FeedService is the slice of the store the API consumes.
type FeedService interface {
	ListFeeds(ctx context.Context) ([]models.Feed, error)
	GetFeed(ctx context.Context, id int64) (*models.Feed, error)
	CreateFeed(ctx context.Context, feed *models.Feed) error
	DeleteFeed(ctx context.Context, id int64) error
	ListItems(ctx context.Context, feedID int64, limit int, cursorTime *time.Time, cursorID *int64) ([]models.Item, error)
	SetItemRead(ctx context.Context, itemID int64, read bool) error
}

// FetchTrigger starts an on-demand fetch cycle for a feed.
type FetchTrigger interface {
	ForceFetch(ctx context.Context, feedID int64) error
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	feeds   FeedService
	trigger FetchTrigger
}

// NewHandler creates a new handler instance.
func NewHandler(feeds FeedService, trigger FetchTrigger) *Handler {
	return &Handler{
		feeds:   feeds,
		trigger: trigger,
	}
}

// FeedView is the JSON rendering of a feed. Cache validators stay internal.
type FeedView struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Source       string     `json:"source"`
	ActualSource *string    `json:"actual_source,omitempty"`
	Status       *string    `json:"status,omitempty"`
	LastFetchAt  *time.Time `json:"last_fetch_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ItemView is the JSON rendering of an item.
type ItemView struct {
	ID          int64              `json:"id"`
	FeedID      int64              `json:"feed_id"`
	ExternalID  string             `json:"external_id"`
	Title       *string            `json:"title,omitempty"`
	Link        *string            `json:"link,omitempty"`
	Author      *string            `json:"author,omitempty"`
	Summary     *string            `json:"summary,omitempty"`
	Content     models.ContentList `json:"content"`
	PublishedAt *time.Time         `json:"published_at,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
	FirstSeenAt time.Time          `json:"first_seen_at"`
	Read        bool               `json:"read"`
}

// ItemsResponse is the paginated items payload.
type ItemsResponse struct {
	Items      []ItemView `json:"items"`
	NextCursor *string    `json:"next_cursor,omitempty"`
}

func feedView(feed *models.Feed) FeedView {
	v := FeedView{
		ID:        feed.ID,
		Name:      feed.Name,
		Source:    feed.Source,
		CreatedAt: feed.CreatedAt,
	}
	if feed.ActualSource.Valid {
		v.ActualSource = &feed.ActualSource.String
	}
	if feed.Status.Valid {
		v.Status = &feed.Status.String
	}
	if feed.LastFetchAt.Valid {
		v.LastFetchAt = &feed.LastFetchAt.Time
	}
	return v
}

func itemView(item *models.Item) ItemView {
	v := ItemView{
		ID:          item.ID,
		FeedID:      item.FeedID,
		ExternalID:  item.ExternalID,
		Content:     item.Content,
		UpdatedAt:   item.UpdatedAt,
		FirstSeenAt: item.FirstSeenAt,
		Read:        item.Read,
	}
	if item.Title.Valid {
		v.Title = &item.Title.String
	}
	if item.Link.Valid {
		v.Link = &item.Link.String
	}
	if item.Author.Valid {
		v.Author = &item.Author.String
	}
	if item.Summary.Valid {
		v.Summary = &item.Summary.String
	}
	if item.PublishedAt.Valid {
		v.PublishedAt = &item.PublishedAt.Time
	}
	if v.Content == nil {
		v.Content = models.ContentList{}
	}
	return v
}

// ListFeeds handles GET /v1/feeds.
func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	feeds, err := h.feeds.ListFeeds(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list feeds")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	views := make([]FeedView, 0, len(feeds))
	for i := range feeds {
		views = append(views, feedView(&feeds[i]))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"feeds": views})
}

// CreateFeed handles POST /v1/feeds.
func (h *Handler) CreateFeed(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Source == "" {
		http.Error(w, "Both 'name' and 'source' are required", http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(req.Source); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "'source' must be an http(s) URL", http.StatusBadRequest)
		return
	}

	feed := models.NewFeed(req.Name, req.Source)
	if err := h.feeds.CreateFeed(r.Context(), feed); err != nil {
		log.Error().Err(err).Str("source", req.Source).Msg("Failed to create feed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	log.Info().Int64("feed_id", feed.ID).Str("source", feed.Source).Msg("Feed subscribed")
	writeJSON(w, r, http.StatusCreated, feedView(feed))
}

// GetFeed handles GET /v1/feeds/{id}.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	feed, err := h.feeds.GetFeed(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Feed not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("feed_id", id).Msg("Failed to get feed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, feedView(feed))
}

// DeleteFeed handles DELETE /v1/feeds/{id}. Items cascade away with the feed.
func (h *Handler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.feeds.DeleteFeed(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Feed not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("feed_id", id).Msg("Failed to delete feed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	log.Info().Int64("feed_id", id).Msg("Feed unsubscribed")
	w.WriteHeader(http.StatusNoContent)
}

// ListItems handles GET /v1/feeds/{id}/items with cursor pagination,
// newest first.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if _, err := h.feeds.GetFeed(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Feed not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("feed_id", id).Msg("Failed to get feed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()

	limit := defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var cursorTime *time.Time
	var cursorID *int64
	if cursorStr := query.Get("cursor"); cursorStr != "" {
		ts, cid, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		cursorTime = &ts
		cursorID = &cid
	}

	items, err := h.feeds.ListItems(r.Context(), id, limit+1, cursorTime, cursorID) // Fetch one extra
	if err != nil {
		log.Error().Err(err).Int64("feed_id", id).Msg("Failed to list items")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursor *string
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		cursor := pagination.EncodeCursor(last.FirstSeenAt.UTC(), last.ID)
		nextCursor = &cursor
	}

	views := make([]ItemView, 0, len(items))
	for i := range items {
		views = append(views, itemView(&items[i]))
	}

	writeJSON(w, r, http.StatusOK, ItemsResponse{Items: views, NextCursor: nextCursor})
}

// ForceFetch handles POST /v1/feeds/{id}/fetch. A feed mid-cycle answers 409;
// the caller may retry once the cycle settles.
func (h *Handler) ForceFetch(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.trigger.ForceFetch(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Feed not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyFetching):
		http.Error(w, "Feed is already being fetched", http.StatusConflict)
	case err != nil:
		log.Error().Err(err).Int64("feed_id", id).Msg("Failed to queue force fetch")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	default:
		log.Info().Int64("feed_id", id).Msg("Force fetch queued")
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// MarkItemRead handles PATCH /v1/items/{id} with a {"read": bool} body.
func (h *Handler) MarkItemRead(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Read *bool `json:"read"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Read == nil {
		http.Error(w, "Body must be {\"read\": true|false}", http.StatusBadRequest)
		return
	}

	if err := h.feeds.SetItemRead(r.Context(), id, *req.Read); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Item not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("item_id", id).Msg("Failed to update item")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment, replying 400 on garbage.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
}
