package ranking

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"flight_booking/internal/currency"
	"flight_booking/internal/expiry"
	"flight_booking/internal/models"
)

var now = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

func tracker(at time.Time) *expiry.Tracker {
	return expiry.NewTracker(expiry.DefaultPolicy(), expiry.WithClock(func() time.Time { return at }))
}

// offer builds an offer with one slice per legs entry; each leg lists the
// airports it touches and takes one hour per segment.
func offer(id string, amount float64, carrier string, legs ...[]string) models.Offer {
	o := models.Offer{
		ID:            id,
		Owner:         models.Airline{Name: carrier + " Airways", IATACode: carrier},
		TotalAmount:   amount,
		TotalCurrency: "USD",
	}
	dep := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, airports := range legs {
		s := models.Slice{Origin: airports[0], Destination: airports[len(airports)-1]}
		for i := 0; i < len(airports)-1; i++ {
			s.Segments = append(s.Segments, models.Segment{
				Origin:           airports[i],
				Destination:      airports[i+1],
				DepartingAt:      dep,
				ArrivingAt:       dep.Add(time.Hour),
				MarketingCarrier: models.Airline{IATACode: carrier},
			})
			dep = dep.Add(90 * time.Minute)
		}
		o.Slices = append(o.Slices, s)
	}
	return o
}

func record(offers ...models.Offer) *models.SearchRecord {
	exp := now.Add(time.Hour)
	return &models.SearchRecord{
		SearchID:         "s1",
		SearchParameters: models.SearchParameters{Currency: "USD"},
		Offers:           offers,
		CachedAt:         now,
		Timing:           models.SearchTiming{ExpiresAt: &exp},
	}
}

func ptr[T any](v T) *T { return &v }

type fixedRates map[string]float64

func (f fixedRates) Display(_ context.Context, amount float64, from, to string) currency.Money {
	if from == to {
		return currency.Money{Amount: amount, Currency: to, Converted: true}
	}
	rate, ok := f[from+to]
	if !ok {
		return currency.Money{Amount: amount, Currency: from}
	}
	return currency.Money{Amount: currency.ConvertAmount(amount, rate), Currency: to, Converted: true}
}

func TestStopsAndDuration(t *testing.T) {
	o := offer("O1", 100, "AF", []string{"JFK", "LHR", "CDG"}, []string{"CDG", "JFK"})
	if got := Stops(o); got != 1 {
		t.Fatalf("expected 1 stop, got %d", got)
	}
	// outbound 09:00 -> 11:30, return 12:00 -> 13:00
	if got := Duration(o); got != 3*time.Hour+30*time.Minute {
		t.Fatalf("unexpected duration %v", got)
	}
}

func TestCheapestIsNonDecreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	offers := make([]models.Offer, 0, 40)
	for i := 0; i < 40; i++ {
		o := offer("O", float64(rng.Intn(2000))+rng.Float64(), "AF", []string{"JFK", "CDG"})
		if i%3 == 0 {
			o.TotalCurrency = "EUR"
		}
		offers = append(offers, o)
	}
	r := NewRanker(tracker(now), fixedRates{"EURUSD": 1.08}, DefaultWeights(), nil)

	out, err := r.Rank(context.Background(), record(offers...), Query{Sort: SortCheapest, Currency: "USD"})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(out) != len(offers) {
		t.Fatalf("expected %d offers, got %d", len(offers), len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Price.Amount < out[i-1].Price.Amount {
			t.Fatalf("not sorted at %d: %v < %v", i, out[i].Price.Amount, out[i-1].Price.Amount)
		}
	}
}

func TestNonstopFilter(t *testing.T) {
	offers := []models.Offer{
		offer("direct", 500, "AF", []string{"JFK", "CDG"}),
		offer("one-stop", 300, "BA", []string{"JFK", "LHR", "CDG"}),
		offer("rt-mixed", 400, "AF", []string{"JFK", "CDG"}, []string{"CDG", "AMS", "JFK"}),
		offer("rt-direct", 700, "DL", []string{"JFK", "CDG"}, []string{"CDG", "JFK"}),
	}
	stops, err := ParseStops("nonstop")
	if err != nil {
		t.Fatalf("parse stops: %v", err)
	}
	r := NewRanker(tracker(now), nil, DefaultWeights(), nil)

	out, err := r.Rank(context.Background(), record(offers...), Query{Filters: Filters{MaxStops: stops}})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 nonstop offers, got %d", len(out))
	}
	for _, p := range out {
		for _, s := range p.Offer.Slices {
			if len(s.Segments) > 1 {
				t.Fatalf("offer %s has a slice with %d segments", p.Offer.ID, len(s.Segments))
			}
		}
	}
}

func TestFiltersCombine(t *testing.T) {
	offers := []models.Offer{
		offer("af-direct", 500, "AF", []string{"JFK", "CDG"}),
		offer("ba-lhr", 300, "BA", []string{"JFK", "LHR", "CDG"}),
		offer("af-ams", 350, "AF", []string{"JFK", "AMS", "CDG"}),
		offer("af-expensive", 2500, "AF", []string{"JFK", "LHR", "CDG"}),
	}
	r := NewRanker(tracker(now), nil, DefaultWeights(), nil)

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"no filters", Filters{}, []string{"af-direct", "ba-lhr", "af-ams", "af-expensive"}},
		{"airline", Filters{Airlines: []string{"af"}}, []string{"af-direct", "af-ams", "af-expensive"}},
		{"price range", Filters{MinPrice: ptr(320.0), MaxPrice: ptr(1000.0)}, []string{"af-direct", "af-ams"}},
		{"connection", Filters{ConnectingAirports: []string{"lhr"}}, []string{"ba-lhr", "af-expensive"}},
		{"duration", Filters{MaxDurationHours: ptr(1.0)}, []string{"af-direct"}},
		{"min duration", Filters{MinDurationHours: ptr(2.0)}, []string{"ba-lhr", "af-ams", "af-expensive"}},
		{"airline and connection", Filters{Airlines: []string{"AF"}, ConnectingAirports: []string{"LHR"}}, []string{"af-expensive"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Rank(context.Background(), record(offers...), Query{Filters: tt.filters, Sort: SortDirect})
			if err != nil {
				t.Fatalf("rank: %v", err)
			}
			got := ids(out)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v want %v", got, tt.want)
				}
			}
		})
	}
}

func TestPriceFilterUsesConvertedAmount(t *testing.T) {
	o := offer("O1", 100, "AF", []string{"JFK", "CDG"})
	r := NewRanker(tracker(now), fixedRates{"USDEUR": 0.92}, DefaultWeights(), nil)

	out, err := r.Rank(context.Background(), record(o), Query{Currency: "EUR", Filters: Filters{MaxPrice: ptr(95.0)}})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(out) != 1 || out[0].Price.Amount != 92 || out[0].Price.Currency != "EUR" {
		t.Fatalf("expected 92.00 EUR, got %+v", out)
	}
}

func TestSortModes(t *testing.T) {
	cheapSlow := offer("cheap-slow", 200, "AA", []string{"JFK", "ORD", "DEN", "CDG"})
	fastPricey := offer("fast-pricey", 900, "AF", []string{"JFK", "CDG"})
	middle := offer("middle", 450, "BA", []string{"JFK", "LHR", "CDG"})
	rec := record(cheapSlow, fastPricey, middle)
	r := NewRanker(tracker(now), nil, DefaultWeights(), nil)

	tests := []struct {
		mode SortMode
		want []string
	}{
		{SortCheapest, []string{"cheap-slow", "middle", "fast-pricey"}},
		{SortFastest, []string{"fast-pricey", "middle", "cheap-slow"}},
		{SortDirect, []string{"fast-pricey", "middle", "cheap-slow"}},
		// scores: cheap-slow 1+1.2+0.4, middle 2.25+0.75+0.2, fast-pricey 4.5+0.3
		{SortBest, []string{"cheap-slow", "middle", "fast-pricey"}},
	}
	for _, tt := range tests {
		out, err := r.Rank(context.Background(), rec, Query{Sort: tt.mode})
		if err != nil {
			t.Fatalf("%s: %v", tt.mode, err)
		}
		got := ids(out)
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Fatalf("%s: got %v want %v", tt.mode, got, tt.want)
			}
		}
	}
}

func TestCustomWeights(t *testing.T) {
	cheapSlow := offer("cheap-slow", 200, "AA", []string{"JFK", "ORD", "DEN", "CDG"})
	fastPricey := offer("fast-pricey", 300, "AF", []string{"JFK", "CDG"})
	r := NewRanker(tracker(now), nil, Weights{Price: 0.1, Duration: 1, Stops: 1}, nil)

	out, err := r.Rank(context.Background(), record(cheapSlow, fastPricey), Query{Sort: SortBest})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if out[0].Offer.ID != "fast-pricey" {
		t.Fatalf("expected duration-heavy weights to favour fast-pricey, got %v", ids(out))
	}
}

// O1 expires 30 minutes after the search; 31 minutes later it is gone from
// the bookable results.
func TestExpiredOffersDropped(t *testing.T) {
	exp := now.Add(30 * time.Minute)
	o1 := offer("O1", 450, "AF", []string{"JFK", "CDG"})
	o1.ExpiresAt = &exp
	o2 := offer("O2", 480, "AF", []string{"JFK", "CDG"})
	o2.ExpiresAt = ptr(now.Add(3 * time.Hour))

	rec := record(o1, o2)
	rec.Timing.ExpiresAt = ptr(now.Add(3 * time.Hour))

	out, err := NewRanker(tracker(now), nil, DefaultWeights(), nil).Rank(context.Background(), rec, Query{})
	if err != nil || len(out) != 2 {
		t.Fatalf("expected both offers at search time, got %v %v", ids(out), err)
	}

	out, err = NewRanker(tracker(now.Add(31*time.Minute)), nil, DefaultWeights(), nil).Rank(context.Background(), rec, Query{})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(out) != 1 || out[0].Offer.ID != "O2" {
		t.Fatalf("expected only O2, got %v", ids(out))
	}
}

func TestAllOffersExpired(t *testing.T) {
	rec := record(offer("O1", 450, "AF", []string{"JFK", "CDG"}))
	// inside the 5 minute buffer
	r := NewRanker(tracker(now.Add(56*time.Minute)), nil, DefaultWeights(), nil)

	if _, err := r.Rank(context.Background(), rec, Query{}); !errors.Is(err, ErrAllOffersExpired) {
		t.Fatalf("expected ErrAllOffersExpired, got %v", err)
	}

	empty := record()
	out, err := r.Rank(context.Background(), empty, Query{})
	if err != nil || len(out) != 0 {
		t.Fatalf("empty record should rank to an empty list, got %v %v", out, err)
	}
}

func TestParseSortMode(t *testing.T) {
	if m, err := ParseSortMode(""); err != nil || m != SortBest {
		t.Fatalf("default sort should be best, got %s %v", m, err)
	}
	if m, err := ParseSortMode("Cheapest"); err != nil || m != SortCheapest {
		t.Fatalf("got %s %v", m, err)
	}
	if _, err := ParseSortMode("random"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := ParseStops("-1"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if s, err := ParseStops("any"); err != nil || s != nil {
		t.Fatalf("any should be no ceiling, got %v %v", s, err)
	}
}

func ids(out []PricedOffer) []string {
	res := make([]string, 0, len(out))
	for _, p := range out {
		res = append(res, p.Offer.ID)
	}
	return res
}
