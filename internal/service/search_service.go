package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flight_booking/internal/currency"
	"flight_booking/internal/dedup"
	"flight_booking/internal/expiry"
	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"
	"flight_booking/internal/ranking"
	"flight_booking/internal/repository"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

var (
	// ErrSearchSuperseded means the session moved to another search before
	// the supplier answered; the result was dropped.
	ErrSearchSuperseded = errors.New("search superseded by a newer navigation")
	ErrSearchInProgress = errors.New("search already in progress")
	ErrSearchBooked     = errors.New("search is already booked")
)

// SearchClient is the flight search collaborator.
type SearchClient interface {
	Search(ctx context.Context, params models.SearchParameters) (models.SearchResult, error)
}

type RecordStore interface {
	Save(
		ctx context.Context,
		params models.SearchParameters,
		offers []models.Offer,
		timing models.SearchTiming,
		selectedOfferID *string,
		progress *models.UserProgress,
	) (string, error)
	Load(ctx context.Context, params models.SearchParameters) *models.SearchRecord
	LoadByID(ctx context.Context, searchID string) *models.SearchRecord
	UpdateSelectedOfferByID(ctx context.Context, searchID, offerID string) error
}

// Rates converts for display and warms the rate sets of penalty currencies.
type Rates interface {
	ranking.Converter
	Prefetch(ctx context.Context, display string, currencies ...string)
}

type Penalty struct {
	Kind    string          `json:"kind"` // change, refund
	Allowed *bool           `json:"allowed,omitempty"`
	Amount  *currency.Money `json:"amount,omitempty"`
	Label   string          `json:"label,omitempty"`
}

// SearchView is one ranked page of a stored search.
type SearchView struct {
	SearchID        string                  `json:"search_id"`
	Action          dedup.Action            `json:"action,omitempty"`
	Parameters      models.SearchParameters `json:"search_parameters"`
	Currency        string                  `json:"currency"`
	Offers          []ranking.PricedOffer   `json:"offers"`
	TotalOffers     int                     `json:"total_offers"`
	Status          expiry.Status           `json:"status"`
	SelectedOfferID *string                 `json:"selected_offer_id,omitempty"`
	CurrentStep     models.Step             `json:"current_step"`
	Penalties       map[string][]Penalty    `json:"penalties,omitempty"`
}

type SearchService struct {
	client   SearchClient
	store    RecordStore
	tracker  *expiry.Tracker
	ranker   *ranking.Ranker
	rates    Rates
	sessions *dedup.Registry
	log      logger.Logger

	group singleflight.Group
}

func NewSearchService(
	client SearchClient,
	store RecordStore,
	tracker *expiry.Tracker,
	ranker *ranking.Ranker,
	rates Rates,
	sessions *dedup.Registry,
	log logger.Logger,
) *SearchService {
	if sessions == nil {
		sessions = dedup.NewRegistry(0)
	}
	return &SearchService{
		client:   client,
		store:    store,
		tracker:  tracker,
		ranker:   ranker,
		rates:    rates,
		sessions: sessions,
		log:      logger.OrNop(log),
	}
}

// AutoSearch handles a navigation to the results page. A search id resumes
// the stored record; parameters equal to the session's last auto-search are
// served from the store without a network call; anything else is served
// from the store when cached and still live, and searched otherwise.
func (s *SearchService) AutoSearch(ctx context.Context, sessionID string, nav dedup.Navigation, q ranking.Query) (*SearchView, error) {
	d := s.sessions.Session(sessionID)
	dec, err := d.Decide(nav)
	if err != nil {
		return nil, err
	}

	switch dec.Action {
	case dedup.ActionResume:
		if rec := s.store.LoadByID(ctx, dec.SearchID); rec != nil {
			metrics.IncSearch("resumed")
			return s.view(ctx, rec, q, dedup.ActionResume)
		}
		if nav.Params == nil {
			return nil, fmt.Errorf("search %s: %w", dec.SearchID, repository.ErrNotFound)
		}
		// the id is gone (retention); rebuild from the parameters
		key, err := nav.Params.Key()
		if err != nil {
			return nil, err
		}
		d.Force(key)
		return s.cachedOrSearch(ctx, d, *nav.Params, key, q)

	case dedup.ActionSuppress:
		if rec := s.store.Load(ctx, *nav.Params); rec != nil {
			metrics.IncSearch("suppressed")
			return s.view(ctx, rec, q, dedup.ActionSuppress)
		}
		if d.InFlight(dec.Key) {
			return nil, ErrSearchInProgress
		}
		return nil, fmt.Errorf("no stored search for these parameters: %w", repository.ErrNotFound)

	default:
		return s.cachedOrSearch(ctx, d, *nav.Params, dec.Key, q)
	}
}

// Search runs a user-initiated search, bypassing the store and the
// auto-search suppression.
func (s *SearchService) Search(ctx context.Context, sessionID string, params models.SearchParameters, q ranking.Query) (*SearchView, error) {
	key, err := params.Key()
	if err != nil {
		return nil, err
	}
	d := s.sessions.Session(sessionID)
	if d.InFlight(key) {
		return nil, ErrSearchInProgress
	}
	d.Force(key)
	return s.run(ctx, d, params, key, q)
}

func (s *SearchService) View(ctx context.Context, searchID string, q ranking.Query) (*SearchView, error) {
	rec, err := s.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, rec, q, "")
}

func (s *SearchService) Status(ctx context.Context, searchID string) (expiry.Status, error) {
	rec, err := s.load(ctx, searchID)
	if err != nil {
		return expiry.Status{}, err
	}
	return s.tracker.Status(rec), nil
}

// Watch streams the freshness of a search every interval until ctx ends.
func (s *SearchService) Watch(ctx context.Context, searchID string, interval time.Duration) (<-chan expiry.Status, error) {
	rec, err := s.load(ctx, searchID)
	if err != nil {
		return nil, err
	}
	return s.tracker.Watch(ctx, rec, interval), nil
}

// SelectOffer records the offer the user picked. Offers inside the booking
// buffer can no longer be selected.
func (s *SearchService) SelectOffer(ctx context.Context, searchID, offerID string) (expiry.Status, error) {
	rec, err := s.load(ctx, searchID)
	if err != nil {
		return expiry.Status{}, err
	}
	if rec.UserProgress.BookingStatus == models.BookingBooked {
		return expiry.Status{}, ErrSearchBooked
	}
	offer, ok := models.FindOffer(rec.Offers, offerID)
	if !ok {
		return expiry.Status{}, fmt.Errorf("%w: offer %q not in search %s", models.ErrInvalidInput, offerID, searchID)
	}
	if !s.tracker.IsOfferBookable(rec, offer) {
		reason := models.ExpiringReason
		if s.tracker.IsOfferExpired(rec, offer) {
			reason = models.ExpiredReason
		}
		return expiry.Status{}, &models.ExpirationError{SearchID: searchID, Reason: reason}
	}
	if err := s.store.UpdateSelectedOfferByID(ctx, searchID, offerID); err != nil {
		return expiry.Status{}, err
	}
	return s.tracker.Status(rec), nil
}

func (s *SearchService) cachedOrSearch(
	ctx context.Context,
	d *dedup.Deduplicator,
	params models.SearchParameters,
	key string,
	q ranking.Query,
) (*SearchView, error) {
	if rec := s.store.Load(ctx, params); rec != nil && s.servable(rec) {
		metrics.IncSearch("cached")
		return s.view(ctx, rec, q, dedup.ActionSearch)
	}
	return s.run(ctx, d, params, key, q)
}

// servable reports whether a stored record can answer a new navigation: it
// has not expired and still holds at least one unexpired offer.
func (s *SearchService) servable(rec *models.SearchRecord) bool {
	if s.tracker.IsExpired(rec) {
		return false
	}
	for _, o := range rec.Offers {
		if !s.tracker.IsOfferExpired(rec, o) {
			return true
		}
	}
	return false
}

func (s *SearchService) run(
	ctx context.Context,
	d *dedup.Deduplicator,
	params models.SearchParameters,
	key string,
	q ranking.Query,
) (*SearchView, error) {
	tok, ok := d.Begin(key)
	if !ok {
		return nil, ErrSearchInProgress
	}
	defer d.Finish(tok)

	metrics.IncSearch("started")
	// leaving the page does not cancel the supplier call; its result is
	// dropped below instead
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.client.Search(context.WithoutCancel(ctx), params)
	})
	if shared {
		metrics.IncSearch("coalesced")
	}
	if err != nil {
		metrics.IncSearch("failed")
		var se *models.SupplierError
		if errors.As(err, &se) || errors.Is(err, models.ErrInvalidInput) {
			return nil, err
		}
		return nil, &models.SupplierError{Supplier: "search", Reason: err.Error(), Err: err}
	}

	if !d.IsCurrent(tok) {
		metrics.IncSearch("discarded")
		s.log.Warn("search result discarded", "params_key", key)
		return nil, ErrSearchSuperseded
	}

	res := v.(models.SearchResult)
	searchID, err := s.store.Save(ctx, params, res.Offers, res.Timing, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("save search: %w", err)
	}
	rec := s.store.LoadByID(ctx, searchID)
	if rec == nil {
		return nil, fmt.Errorf("reload search %s: %w", searchID, repository.ErrNotFound)
	}
	s.log.Info("search completed", "search_id", searchID, "offers", len(res.Offers))
	return s.view(ctx, rec, q, dedup.ActionSearch)
}

func (s *SearchService) load(ctx context.Context, searchID string) (*models.SearchRecord, error) {
	rec := s.store.LoadByID(ctx, searchID)
	if rec == nil {
		return nil, fmt.Errorf("search %s: %w", searchID, repository.ErrNotFound)
	}
	return rec, nil
}

// view ranks rec for display. With every offer expired the view is still
// returned, empty, together with ranking.ErrAllOffersExpired.
func (s *SearchService) view(ctx context.Context, rec *models.SearchRecord, q ranking.Query, action dedup.Action) (*SearchView, error) {
	display := q.Currency
	if display == "" {
		display = rec.SearchParameters.Currency
	}
	q.Currency = display

	var penaltyCurrencies []string
	for _, o := range rec.Offers {
		penaltyCurrencies = append(penaltyCurrencies, o.PenaltyCurrencies()...)
		penaltyCurrencies = append(penaltyCurrencies, o.TotalCurrency)
	}
	s.rates.Prefetch(ctx, display, penaltyCurrencies...)

	offers, rankErr := s.ranker.Rank(ctx, rec, q)
	if rankErr != nil && !errors.Is(rankErr, ranking.ErrAllOffersExpired) {
		return nil, rankErr
	}
	if offers == nil {
		offers = []ranking.PricedOffer{}
	}

	v := &SearchView{
		SearchID:        rec.SearchID,
		Action:          action,
		Parameters:      rec.SearchParameters,
		Currency:        display,
		Offers:          offers,
		TotalOffers:     len(rec.Offers),
		Status:          s.tracker.Status(rec),
		SelectedOfferID: rec.SelectedOfferID,
		CurrentStep:     rec.UserProgress.CurrentStep,
		Penalties:       make(map[string][]Penalty),
	}
	for _, p := range offers {
		if pen := s.penalties(ctx, p.Offer, display); len(pen) > 0 {
			v.Penalties[p.Offer.ID] = pen
		}
	}
	return v, rankErr
}

func (s *SearchService) penalties(ctx context.Context, o models.Offer, display string) []Penalty {
	var out []Penalty
	add := func(kind string, c *models.Condition) {
		if c == nil {
			return
		}
		p := Penalty{Kind: kind, Allowed: c.Allowed}
		if c.PenaltyAmount != nil && c.PenaltyCurrency != "" {
			m := s.rates.Display(ctx, *c.PenaltyAmount, c.PenaltyCurrency, display)
			p.Amount = &m
			p.Label = currency.Format(m, language.English)
		}
		out = append(out, p)
	}
	add("change", o.Conditions.ChangeBeforeDeparture)
	add("refund", o.Conditions.RefundBeforeDeparture)
	return out
}
