package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flight_booking/internal/dedup"
	"flight_booking/internal/expiry"
	"flight_booking/internal/logger"
	"flight_booking/internal/models"
	"flight_booking/internal/ranking"
	"flight_booking/internal/repository"
	"flight_booking/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"
)

type fakeSearchService struct {
	session  string
	nav      dedup.Navigation
	params   models.SearchParameters
	query    ranking.Query
	searchID string
	offerID  string

	view    *service.SearchView
	err     error
	watched []expiry.Status
}

func (f *fakeSearchService) AutoSearch(_ context.Context, sessionID string, nav dedup.Navigation, q ranking.Query) (*service.SearchView, error) {
	f.session, f.nav, f.query = sessionID, nav, q
	return f.view, f.err
}

func (f *fakeSearchService) Search(_ context.Context, sessionID string, params models.SearchParameters, q ranking.Query) (*service.SearchView, error) {
	f.session, f.params, f.query = sessionID, params, q
	return f.view, f.err
}

func (f *fakeSearchService) View(_ context.Context, searchID string, q ranking.Query) (*service.SearchView, error) {
	f.searchID, f.query = searchID, q
	return f.view, f.err
}

func (f *fakeSearchService) Status(_ context.Context, searchID string) (expiry.Status, error) {
	f.searchID = searchID
	return expiry.Status{SearchID: searchID, Freshness: expiry.Fresh}, f.err
}

func (f *fakeSearchService) Watch(_ context.Context, searchID string, _ time.Duration) (<-chan expiry.Status, error) {
	f.searchID = searchID
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan expiry.Status, len(f.watched))
	for _, st := range f.watched {
		ch <- st
	}
	close(ch)
	return ch, nil
}

func (f *fakeSearchService) SelectOffer(_ context.Context, searchID, offerID string) (expiry.Status, error) {
	f.searchID, f.offerID = searchID, offerID
	return expiry.Status{SearchID: searchID}, f.err
}

func newSearchRouter(t *testing.T, svc SearchService) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	RegisterSearchRoutes(r, NewSearchHandler(svc, logger.FromZap(zaptest.NewLogger(t))))
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAutoSearchParsesNavigationAndQuery(t *testing.T) {
	svc := &fakeSearchService{view: &service.SearchView{SearchID: "s1", Action: dedup.ActionSearch}}
	router := newSearchRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/searches?origin=jfk&destination=cdg&departure_date=2025-06-01&passengers=1"+
			"&cabin_class=economy&currency=usd&sort=cheapest&stops=nonstop&airlines=AF,%20DL&max_price=500", nil)
	req.Header.Set(sessionHeader, "tab-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.session != "tab-1" {
		t.Fatalf("session header not passed: %q", svc.session)
	}
	p := svc.nav.Params
	if p == nil || p.Origin != "jfk" || p.Passengers.Adults != 1 || p.Currency != "usd" {
		t.Fatalf("unexpected params: %+v", p)
	}
	q := svc.query
	if q.Sort != ranking.SortCheapest || q.Currency != "USD" {
		t.Fatalf("unexpected query: %+v", q)
	}
	if q.Filters.MaxStops == nil || *q.Filters.MaxStops != 0 {
		t.Fatalf("nonstop not parsed: %+v", q.Filters.MaxStops)
	}
	if len(q.Filters.Airlines) != 2 || q.Filters.Airlines[1] != "DL" {
		t.Fatalf("airlines not parsed: %v", q.Filters.Airlines)
	}
	if q.Filters.MaxPrice == nil || *q.Filters.MaxPrice != 500 {
		t.Fatalf("max_price not parsed")
	}
	if body := decodeBody(t, rec); body["search_id"] != "s1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAutoSearchResumeByID(t *testing.T) {
	svc := &fakeSearchService{view: &service.SearchView{SearchID: "abc123"}}
	router := newSearchRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches?searchId=abc123", nil))

	if rec.Code != http.StatusOK || svc.nav.SearchID != "abc123" || svc.nav.Params != nil {
		t.Fatalf("unexpected resume: code=%d nav=%+v", rec.Code, svc.nav)
	}
}

func TestAutoSearchBadRequests(t *testing.T) {
	router := newSearchRouter(t, &fakeSearchService{})
	cases := []string{
		"/api/searches",
		"/api/searches?origin=JFK&destination=CDG&adults=x",
		"/api/searches?searchId=s&sort=random",
		"/api/searches?searchId=s&stops=-1",
		"/api/searches?searchId=s&min_price=cheap",
		"/api/searches?searchId=s&currency=XXXX",
	}
	for _, url := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestExplicitSearch(t *testing.T) {
	svc := &fakeSearchService{view: &service.SearchView{SearchID: "s2"}}
	router := newSearchRouter(t, svc)

	body := `{"origin":"LHR","destination":"JFK","departure_date":"2025-06-01","passengers":{"adults":2}}`
	req := httptest.NewRequest(http.MethodPost, "/api/searches?display_currency=EUR", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.params.Origin != "LHR" || svc.params.Passengers.Adults != 2 || svc.query.Currency != "EUR" {
		t.Fatalf("unexpected call: %+v %+v", svc.params, svc.query)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/searches", strings.NewReader(`{"origin":"LHR","bogus":1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields should be rejected, got %d", rec.Code)
	}
}

func TestViewAllExpiredKeepsView(t *testing.T) {
	svc := &fakeSearchService{
		view: &service.SearchView{SearchID: "abc123", Offers: []ranking.PricedOffer{}},
		err:  ranking.ErrAllOffersExpired,
	}
	router := newSearchRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches/abc123", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["refresh_required"] != true || body["reason"] != models.ExpiredReason {
		t.Fatalf("unexpected body: %v", body)
	}
	state, _ := body["state"].(map[string]any)
	if state["search_id"] != "abc123" || svc.searchID != "abc123" {
		t.Fatalf("view not echoed: %v", body)
	}
}

func TestSelectOfferHandler(t *testing.T) {
	svc := &fakeSearchService{}
	router := newSearchRouter(t, svc)

	req := httptest.NewRequest(http.MethodPut, "/api/searches/abc123/selection", bytes.NewBufferString(`{"offer_id":"O1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || svc.searchID != "abc123" || svc.offerID != "O1" {
		t.Fatalf("unexpected select: code=%d %+v", rec.Code, svc)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/searches/abc123/selection", bytes.NewBufferString(`{"offer_id":" "}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank offer id: expected 400, got %d", rec.Code)
	}

	svc.err = &models.ExpirationError{SearchID: "abc123", Reason: models.ExpiringReason}
	req = httptest.NewRequest(http.MethodPut, "/api/searches/abc123/selection", bytes.NewBufferString(`{"offer_id":"O1"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict || decodeBody(t, rec)["reason"] != models.ExpiringReason {
		t.Fatalf("expiring selection: expected 409, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusStream(t *testing.T) {
	svc := &fakeSearchService{watched: []expiry.Status{
		{SearchID: "abc123", RemainingMs: 2000},
		{SearchID: "abc123", RemainingMs: 1000},
	}}
	router := newSearchRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches/abc123/status/stream", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if n := strings.Count(rec.Body.String(), "event: status\n"); n != 2 {
		t.Fatalf("expected 2 events, got %d: %s", n, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"remaining_ms":1000`) {
		t.Fatalf("countdown missing: %s", rec.Body.String())
	}

	svc.err = repository.ErrNotFound
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches/gone/status/stream", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		key  string
	}{
		{"validation", &models.ValidationError{Fields: []models.FieldError{{Field: "email", Reason: "invalid"}}}, http.StatusUnprocessableEntity, "fields"},
		{"expiration", &models.ExpirationError{SearchID: "s", Reason: models.StaleReason}, http.StatusConflict, "refresh_required"},
		{"auth", models.ErrAuthenticationRequired, http.StatusUnauthorized, "pending_submission"},
		{"supplier", &models.SupplierError{Supplier: "booking", Reason: "card declined"}, http.StatusBadGateway, "retryable"},
		{"not found", repository.ErrNotFound, http.StatusNotFound, "error"},
		{"invalid", invalid("bad date"), http.StatusBadRequest, "error"},
		{"superseded", service.ErrSearchSuperseded, http.StatusConflict, "superseded"},
		{"in progress", service.ErrSearchInProgress, http.StatusConflict, "in_progress"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tc.err, nil)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if _, ok := decodeBody(t, rec)[tc.key]; !ok {
				t.Fatalf("body misses %q: %s", tc.key, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	writeServiceError(rec, &models.SupplierError{Supplier: "booking", Reason: "card declined"}, nil)
	if decodeBody(t, rec)["error"] != "card declined" {
		t.Fatalf("supplier reason must be verbatim: %s", rec.Body.String())
	}
}
