package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flight_booking/internal/dedup"
	"flight_booking/internal/expiry"
	"flight_booking/internal/logger"
	"flight_booking/internal/models"
	"flight_booking/internal/ranking"
	"flight_booking/internal/service"

	"github.com/go-chi/chi/v5"
)

// SearchService is what the search handlers need from the service layer.
type SearchService interface {
	AutoSearch(ctx context.Context, sessionID string, nav dedup.Navigation, q ranking.Query) (*service.SearchView, error)
	Search(ctx context.Context, sessionID string, params models.SearchParameters, q ranking.Query) (*service.SearchView, error)
	View(ctx context.Context, searchID string, q ranking.Query) (*service.SearchView, error)
	Status(ctx context.Context, searchID string) (expiry.Status, error)
	Watch(ctx context.Context, searchID string, interval time.Duration) (<-chan expiry.Status, error)
	SelectOffer(ctx context.Context, searchID, offerID string) (expiry.Status, error)
}

type SearchHandler struct {
	service       SearchService
	log           logger.Logger
	watchInterval time.Duration
}

func NewSearchHandler(service SearchService, log logger.Logger) *SearchHandler {
	return &SearchHandler{service: service, log: logger.OrNop(log), watchInterval: time.Second}
}

// GET /api/searches?searchId=...  or  ?origin=&destination=&departure_date=...
// 200: search view
// 400: invalid params
// 404: unknown search id / nothing stored for suppressed parameters
// 409: refresh required, superseded or already running
// 502: supplier failure
func (h *SearchHandler) AutoSearch(w http.ResponseWriter, r *http.Request) {
	nav, err := parseNavigation(r)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	if nav.SearchID == "" && nav.Params == nil {
		writeError(w, http.StatusBadRequest, "searchId or origin and destination are required")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}

	view, err := h.service.AutoSearch(r.Context(), r.Header.Get(sessionHeader), nav, q)
	h.writeView(w, view, err)
}

// POST /api/searches
// body: search parameters; view options come from the query string.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var params models.SearchParameters
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}

	view, err := h.service.Search(r.Context(), r.Header.Get(sessionHeader), params, q)
	h.writeView(w, view, err)
}

// GET /api/searches/{search_id}
func (h *SearchHandler) View(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	view, err := h.service.View(r.Context(), chi.URLParam(r, "search_id"), q)
	h.writeView(w, view, err)
}

// GET /api/searches/{search_id}/status
func (h *SearchHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context(), chi.URLParam(r, "search_id"))
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /api/searches/{search_id}/status/stream
// Server-sent events, one status per tick until the client goes away.
func (h *SearchHandler) WatchStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, err := h.service.Watch(r.Context(), chi.URLParam(r, "search_id"), h.watchInterval)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for st := range ch {
		b, err := json.Marshal(st)
		if err != nil {
			h.log.Error("encode status event", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", b); err != nil {
			return
		}
		flusher.Flush()
	}
}

type selectionRequest struct {
	OfferID string `json:"offer_id"`
}

// PUT /api/searches/{search_id}/selection
// 200: { "search_id", "selected_offer_id", "status" }
// 400: unknown offer
// 409: offer past the booking buffer
func (h *SearchHandler) SelectOffer(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	req.OfferID = strings.TrimSpace(req.OfferID)
	if req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "offer_id is required")
		return
	}

	searchID := chi.URLParam(r, "search_id")
	st, err := h.service.SelectOffer(r.Context(), searchID, req.OfferID)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"search_id":         searchID,
		"selected_offer_id": req.OfferID,
		"status":            st,
	})
}

func (h *SearchHandler) writeView(w http.ResponseWriter, view *service.SearchView, err error) {
	if err != nil {
		// an all-expired view still carries the record for the refresh prompt
		if errors.Is(err, ranking.ErrAllOffersExpired) && view != nil {
			writeServiceError(w, err, view)
			return
		}
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
