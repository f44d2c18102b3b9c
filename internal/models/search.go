package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCabinClass = "economy"
	DefaultCurrency   = "USD"

	dateLayout = "2006-01-02"
)

var cabinClasses = map[string]struct{}{
	"economy":         {},
	"premium_economy": {},
	"business":        {},
	"first":           {},
}

var dateLayouts = []string{dateLayout, time.RFC3339, "2006/01/02", "20060102"}

type PassengerCounts struct {
	Adults        int `json:"adults"`
	Children      int `json:"children"`
	InfantsInSeat int `json:"infants_in_seat"`
	InfantsOnLap  int `json:"infants_on_lap"`
}

func (p PassengerCounts) Total() int {
	return p.Adults + p.Children + p.InfantsInSeat + p.InfantsOnLap
}

type SearchParameters struct {
	Origin         string          `json:"origin"`
	Destination    string          `json:"destination"`
	DepartureDate  string          `json:"departure_date"`
	ReturnDate     string          `json:"return_date,omitempty"`
	Passengers     PassengerCounts `json:"passengers"`
	CabinClass     string          `json:"cabin_class"`
	Currency       string          `json:"currency"`
	MaxConnections *int            `json:"max_connections,omitempty"`
}

// Normalize returns the canonical form of p: upper-case IATA and currency
// codes, lower-case cabin class, yyyy-mm-dd dates and at least one adult.
func (p SearchParameters) Normalize() (SearchParameters, error) {
	out := p

	out.Origin = strings.ToUpper(strings.TrimSpace(p.Origin))
	out.Destination = strings.ToUpper(strings.TrimSpace(p.Destination))
	if out.Origin == "" || out.Destination == "" {
		return SearchParameters{}, fmt.Errorf("%w: origin and destination are required", ErrInvalidInput)
	}

	dep, err := normalizeDate(p.DepartureDate)
	if err != nil || dep == "" {
		return SearchParameters{}, fmt.Errorf("%w: invalid departure_date %q", ErrInvalidInput, p.DepartureDate)
	}
	out.DepartureDate = dep

	ret, err := normalizeDate(p.ReturnDate)
	if err != nil {
		return SearchParameters{}, fmt.Errorf("%w: invalid return_date %q", ErrInvalidInput, p.ReturnDate)
	}
	if ret != "" && ret < dep {
		return SearchParameters{}, fmt.Errorf("%w: return_date before departure_date", ErrInvalidInput)
	}
	out.ReturnDate = ret

	pc := p.Passengers
	if pc.Adults < 0 || pc.Children < 0 || pc.InfantsInSeat < 0 || pc.InfantsOnLap < 0 {
		return SearchParameters{}, fmt.Errorf("%w: passenger counts must be >= 0", ErrInvalidInput)
	}
	if pc.Total() == 0 {
		pc.Adults = 1
	}
	out.Passengers = pc

	cabin := strings.ToLower(strings.TrimSpace(p.CabinClass))
	cabin = strings.ReplaceAll(cabin, " ", "_")
	cabin = strings.ReplaceAll(cabin, "-", "_")
	if cabin == "" {
		cabin = DefaultCabinClass
	}
	if _, ok := cabinClasses[cabin]; !ok {
		return SearchParameters{}, fmt.Errorf("%w: unknown cabin_class %q", ErrInvalidInput, p.CabinClass)
	}
	out.CabinClass = cabin

	cur := p.Currency
	if strings.TrimSpace(cur) == "" {
		cur = DefaultCurrency
	}
	out.Currency, err = NormalizeCurrency(cur)
	if err != nil {
		return SearchParameters{}, err
	}

	if p.MaxConnections != nil {
		if *p.MaxConnections < 0 {
			return SearchParameters{}, fmt.Errorf("%w: max_connections must be >= 0", ErrInvalidInput)
		}
		v := *p.MaxConnections
		out.MaxConnections = &v
	}

	return out, nil
}

// Key is the hash of the normalized parameters. It is the primary cache key
// and the value compared by the auto-search deduplicator.
func (p SearchParameters) Key() (string, error) {
	n, err := p.Normalize()
	if err != nil {
		return "", err
	}
	return n.hash(), nil
}

func (p SearchParameters) hash() string {
	maxConn := "any"
	if p.MaxConnections != nil {
		maxConn = strconv.Itoa(*p.MaxConnections)
	}
	canonical := strings.Join([]string{
		p.Origin,
		p.Destination,
		p.DepartureDate,
		p.ReturnDate,
		strconv.Itoa(p.Passengers.Adults),
		strconv.Itoa(p.Passengers.Children),
		strconv.Itoa(p.Passengers.InfantsInSeat),
		strconv.Itoa(p.Passengers.InfantsOnLap),
		p.CabinClass,
		p.Currency,
		maxConn,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

func normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("unsupported date format %q", value)
}
