package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"flight_booking/internal/booking"
	"flight_booking/internal/currency"
	"flight_booking/internal/models"

	"github.com/google/uuid"
)

// Fixture is the on-disk description of a fake supplier. Times are relative
// so the same file keeps producing bookable offers.
type Fixture struct {
	SearchTTL         Duration                      `json:"search_ttl"`
	SupplierTimeoutMs int64                         `json:"supplier_timeout_ms"`
	Rates             map[string]map[string]float64 `json:"rates"`
	Offers            []OfferTemplate               `json:"offers"`
	// FailOffers maps an offer id to the reason its booking is declined.
	FailOffers map[string]string `json:"fail_offers"`
}

type OfferTemplate struct {
	ID           string            `json:"id"`
	Owner        models.Airline    `json:"owner"`
	AmountPerPax float64           `json:"amount_per_passenger"`
	Currency     string            `json:"currency"`
	Conditions   models.Conditions `json:"conditions"`
	Outbound     []SegmentTemplate `json:"outbound"`
	Inbound      []SegmentTemplate `json:"inbound"`
	ExpiresIn    *Duration         `json:"expires_in,omitempty"`
	CabinClasses []string          `json:"cabin_classes,omitempty"`
}

type SegmentTemplate struct {
	Origin       string   `json:"origin"`
	Destination  string   `json:"destination"`
	DepartAt     Duration `json:"depart_at"` // offset from local midnight of the travel date
	Duration     Duration `json:"duration"`
	Carrier      string   `json:"carrier"`
	FlightNumber string   `json:"flight_number"`
}

// Duration reads Go duration strings ("7h15m") from JSON.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// FixtureClient serves search, rates and booking from a Fixture.
type FixtureClient struct {
	fx  Fixture
	now func() time.Time

	mu       sync.Mutex
	bookings map[string]string
}

func LoadFixture(path string) (*FixtureClient, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read supplier fixture: %w", err)
	}
	var fx Fixture
	if err := json.Unmarshal(b, &fx); err != nil {
		return nil, fmt.Errorf("parse supplier fixture: %w", err)
	}
	return NewFixtureClient(fx), nil
}

func NewFixtureClient(fx Fixture) *FixtureClient {
	if fx.SearchTTL.Duration <= 0 {
		fx.SearchTTL.Duration = 30 * time.Minute
	}
	return &FixtureClient{fx: fx, now: time.Now, bookings: make(map[string]string)}
}

// WithClock replaces the time source.
func (c *FixtureClient) WithClock(now func() time.Time) *FixtureClient {
	c.now = now
	return c
}

func (c *FixtureClient) Search(ctx context.Context, params models.SearchParameters) (models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return models.SearchResult{}, err
	}
	p, err := params.Normalize()
	if err != nil {
		return models.SearchResult{}, err
	}
	departure, _ := time.Parse("2006-01-02", p.DepartureDate)
	var inbound time.Time
	if p.ReturnDate != "" {
		inbound, _ = time.Parse("2006-01-02", p.ReturnDate)
	}

	now := c.now().UTC().Truncate(time.Second)
	expires := now.Add(c.fx.SearchTTL.Duration)

	passengers := offerPassengers(p.Passengers)
	offers := make([]models.Offer, 0, len(c.fx.Offers))
	for _, tpl := range c.fx.Offers {
		if !tpl.serves(p) {
			continue
		}
		o := models.Offer{
			ID:            tpl.ID,
			Owner:         tpl.Owner,
			TotalAmount:   currency.ConvertAmount(tpl.AmountPerPax, float64(len(passengers))),
			TotalCurrency: strings.ToUpper(tpl.Currency),
			Conditions:    tpl.Conditions,
			Passengers:    passengers,
			Slices:        []models.Slice{buildSlice(tpl.Outbound, departure)},
		}
		if p.ReturnDate != "" {
			o.Slices = append(o.Slices, buildSlice(tpl.Inbound, inbound))
		}
		if tpl.ExpiresIn != nil {
			exp := now.Add(tpl.ExpiresIn.Duration)
			o.ExpiresAt = &exp
		}
		offers = append(offers, o)
	}

	return models.SearchResult{
		Offers: offers,
		Timing: models.SearchTiming{
			SearchStartedAt: &now,
			SupplierTimeout: c.fx.SupplierTimeoutMs,
			ExpiresAt:       &expires,
			CreatedAt:       &now,
		},
	}, nil
}

func (c *FixtureClient) FetchRates(ctx context.Context, base string) (currency.RatesResult, error) {
	if err := ctx.Err(); err != nil {
		return currency.RatesResult{}, err
	}
	rates, ok := c.fx.Rates[strings.ToUpper(base)]
	if !ok {
		return currency.RatesResult{Success: false}, nil
	}
	out := make(map[string]float64, len(rates))
	for k, v := range rates {
		out[k] = v
	}
	return currency.RatesResult{Success: true, Rates: out}, nil
}

func (c *FixtureClient) Book(ctx context.Context, req booking.Request) (booking.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return booking.Confirmation{}, err
	}
	if reason, ok := c.fx.FailOffers[req.OfferID]; ok {
		return booking.Confirmation{}, &models.SupplierError{Supplier: "booking", Reason: reason}
	}
	if len(req.Passengers) == 0 {
		return booking.Confirmation{}, &models.SupplierError{Supplier: "booking", Reason: "no passengers on the booking"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// the same search books once
	if ref, ok := c.bookings[req.SearchID]; ok {
		return booking.Confirmation{BookingReference: ref}, nil
	}
	ref := "BK" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	c.bookings[req.SearchID] = ref
	return booking.Confirmation{BookingReference: ref}, nil
}

func (t OfferTemplate) serves(p models.SearchParameters) bool {
	if len(t.Outbound) == 0 {
		return false
	}
	if !strings.EqualFold(t.Outbound[0].Origin, p.Origin) ||
		!strings.EqualFold(t.Outbound[len(t.Outbound)-1].Destination, p.Destination) {
		return false
	}
	if p.ReturnDate != "" && len(t.Inbound) == 0 {
		return false
	}
	if p.MaxConnections != nil && len(t.Outbound)-1 > *p.MaxConnections {
		return false
	}
	if len(t.CabinClasses) == 0 {
		return p.CabinClass == models.DefaultCabinClass
	}
	for _, cc := range t.CabinClasses {
		if strings.EqualFold(cc, p.CabinClass) {
			return true
		}
	}
	return false
}

func buildSlice(tpls []SegmentTemplate, day time.Time) models.Slice {
	s := models.Slice{}
	if len(tpls) == 0 {
		return s
	}
	s.Origin = tpls[0].Origin
	s.Destination = tpls[len(tpls)-1].Destination
	for i, st := range tpls {
		dep := day.Add(st.DepartAt.Duration)
		s.Segments = append(s.Segments, models.Segment{
			ID:               fmt.Sprintf("%s-%s-%d", st.Carrier, st.FlightNumber, i+1),
			Origin:           st.Origin,
			Destination:      st.Destination,
			DepartingAt:      dep,
			ArrivingAt:       dep.Add(st.Duration.Duration),
			MarketingCarrier: models.Airline{IATACode: st.Carrier},
			FlightNumber:     st.FlightNumber,
		})
	}
	return s
}

func offerPassengers(c models.PassengerCounts) []models.OfferPassenger {
	var out []models.OfferPassenger
	add := func(n int, typ string) {
		for i := 0; i < n; i++ {
			out = append(out, models.OfferPassenger{ID: fmt.Sprintf("pas_%d", len(out)+1), Type: typ})
		}
	}
	add(c.Adults, "adult")
	add(c.Children, "child")
	add(c.InfantsInSeat, "infant_with_seat")
	add(c.InfantsOnLap, "infant_without_seat")
	return out
}
