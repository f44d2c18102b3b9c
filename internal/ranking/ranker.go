package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"flight_booking/internal/currency"
	"flight_booking/internal/expiry"
	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"
)

// ErrAllOffersExpired means every offer of a record is past the booking
// buffer; the search has to be refreshed.
var ErrAllOffersExpired = errors.New("all offers expired, refresh required")

type SortMode string

const (
	SortCheapest SortMode = "cheapest"
	SortFastest  SortMode = "fastest"
	SortDirect   SortMode = "direct"
	SortBest     SortMode = "best"
)

func ParseSortMode(v string) (SortMode, error) {
	switch m := SortMode(strings.ToLower(strings.TrimSpace(v))); m {
	case "":
		return SortBest, nil
	case SortCheapest, SortFastest, SortDirect, SortBest:
		return m, nil
	default:
		return "", fmt.Errorf("%w: sort %q", models.ErrInvalidInput, v)
	}
}

// Weights of the "best" score: price per 100 units, duration in hours and
// stop count.
type Weights struct {
	Price    float64
	Duration float64
	Stops    float64
}

func DefaultWeights() Weights {
	return Weights{Price: 0.5, Duration: 0.3, Stops: 0.2}
}

// Converter turns an amount into the display currency, falling back to the
// original amount when no rate is available.
type Converter interface {
	Display(ctx context.Context, amount float64, from, to string) currency.Money
}

type Query struct {
	Filters  Filters
	Sort     SortMode
	Currency string
}

// PricedOffer is an offer annotated for presentation.
type PricedOffer struct {
	Offer     models.Offer   `json:"offer"`
	Price     currency.Money `json:"price"`
	Stops     int            `json:"stops"`
	Duration  time.Duration  `json:"-"`
	Minutes   int64          `json:"duration_minutes"`
	Score     float64        `json:"score"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

type Ranker struct {
	tracker   *expiry.Tracker
	converter Converter
	weights   Weights
	log       logger.Logger
}

// NewRanker builds a Ranker. A nil converter ranks on raw totals.
func NewRanker(tracker *expiry.Tracker, converter Converter, weights Weights, log logger.Logger) *Ranker {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Ranker{tracker: tracker, converter: converter, weights: weights, log: logger.OrNop(log)}
}

// Rank drops offers past the booking buffer, then filters and sorts the
// rest. It returns ErrAllOffersExpired when dropping emptied a non-empty
// offer list.
func (r *Ranker) Rank(ctx context.Context, rec *models.SearchRecord, q Query) ([]PricedOffer, error) {
	if rec == nil || len(rec.Offers) == 0 {
		return []PricedOffer{}, nil
	}

	target := q.Currency
	if target == "" {
		target = rec.SearchParameters.Currency
	}

	bookable := make([]PricedOffer, 0, len(rec.Offers))
	dropped := 0
	for _, o := range rec.Offers {
		if !r.tracker.IsOfferBookable(rec, o) {
			dropped++
			continue
		}
		bookable = append(bookable, r.price(ctx, rec, o, target))
	}
	if dropped > 0 {
		metrics.AddOffersExpiredDropped(dropped)
		r.log.Debug("expired offers dropped", "search_id", rec.SearchID, "dropped", dropped)
	}
	if len(bookable) == 0 {
		return nil, ErrAllOffersExpired
	}

	airlines := normalizeSet(q.Filters.Airlines)
	connections := normalizeSet(q.Filters.ConnectingAirports)
	out := make([]PricedOffer, 0, len(bookable))
	for _, p := range bookable {
		if matchFilters(p, q.Filters, airlines, connections) {
			out = append(out, p)
		}
	}

	sortOffers(out, q.Sort)
	return out, nil
}

func (r *Ranker) price(ctx context.Context, rec *models.SearchRecord, o models.Offer, target string) PricedOffer {
	money := currency.Money{Amount: o.TotalAmount, Currency: o.TotalCurrency}
	if r.converter != nil && target != "" {
		money = r.converter.Display(ctx, o.TotalAmount, o.TotalCurrency, target)
	}

	p := PricedOffer{
		Offer:     o,
		Price:     money,
		Stops:     Stops(o),
		Duration:  Duration(o),
		ExpiresAt: r.tracker.OfferExpiry(rec, o),
	}
	p.Minutes = int64(p.Duration / time.Minute)
	p.Score = r.weights.Price*(money.Amount/100) + r.weights.Duration*p.Duration.Hours() + r.weights.Stops*float64(p.Stops)
	return p
}

func sortOffers(offers []PricedOffer, mode SortMode) {
	less := func(i, j int) bool {
		switch mode {
		case SortCheapest:
			return offers[i].Price.Amount < offers[j].Price.Amount
		case SortFastest:
			return offers[i].Duration < offers[j].Duration
		case SortDirect:
			return offers[i].Stops < offers[j].Stops
		default:
			return offers[i].Score < offers[j].Score
		}
	}
	sort.SliceStable(offers, less)
}
