package currency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var ErrRatesUnavailable = errors.New("exchange rates unavailable")

type RatesResult struct {
	Success bool
	Rates   map[string]float64
}

// RatesProvider fetches the rates of every known currency against base.
type RatesProvider interface {
	FetchRates(ctx context.Context, base string) (RatesResult, error)
}

// RatesCache keeps one rate set per base currency for ttl. Concurrent
// misses for the same base share a single fetch.
type RatesCache struct {
	provider RatesProvider
	ttl      time.Duration
	now      func() time.Time
	log      logger.Logger

	group singleflight.Group

	mu   sync.RWMutex
	sets map[string]models.ExchangeRateSet
}

type Option func(*RatesCache)

func WithClock(now func() time.Time) Option {
	return func(c *RatesCache) { c.now = now }
}

func NewRatesCache(provider RatesProvider, ttl time.Duration, log logger.Logger, opts ...Option) *RatesCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &RatesCache{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		log:      logger.OrNop(log),
		sets:     make(map[string]models.ExchangeRateSet),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRates returns the rate set for base. On a failed fetch the last cached
// set for base is returned regardless of its age; without one the result is
// ErrRatesUnavailable.
func (c *RatesCache) GetRates(ctx context.Context, base string) (models.ExchangeRateSet, error) {
	base, err := models.NormalizeCurrency(base)
	if err != nil {
		return models.ExchangeRateSet{}, err
	}

	if set, ok := c.fresh(base); ok {
		metrics.IncRateFetch("hit")
		return set, nil
	}

	v, err, shared := c.group.Do(base, func() (interface{}, error) {
		if set, ok := c.fresh(base); ok {
			return set, nil
		}
		return c.fetch(ctx, base)
	})
	if shared {
		metrics.IncRateFetch("coalesced")
	}
	if err != nil {
		return models.ExchangeRateSet{}, err
	}
	return v.(models.ExchangeRateSet), nil
}

func (c *RatesCache) fetch(ctx context.Context, base string) (models.ExchangeRateSet, error) {
	res, err := c.provider.FetchRates(ctx, base)
	if err == nil && !res.Success {
		err = &models.SupplierError{Supplier: "rates", Reason: "rates request was not successful"}
	}
	if err != nil {
		c.mu.RLock()
		last, ok := c.sets[base]
		c.mu.RUnlock()
		if ok {
			metrics.IncRateFetch("fallback")
			c.log.Warn("rates fetch failed, serving last known rates",
				"base", base, "fetched_at", last.FetchedAt, "error", err)
			return last, nil
		}
		metrics.IncRateFetch("unavailable")
		c.log.Warn("rates fetch failed", "base", base, "error", err)
		return models.ExchangeRateSet{}, fmt.Errorf("%w: %s: %v", ErrRatesUnavailable, base, err)
	}

	rates := make(map[string]float64, len(res.Rates)+1)
	for code, rate := range res.Rates {
		if rate > 0 {
			rates[strings.ToUpper(code)] = rate
		}
	}
	rates[base] = 1

	set := models.ExchangeRateSet{BaseCurrency: base, Rates: rates, FetchedAt: c.now()}
	c.mu.Lock()
	c.sets[base] = set
	c.mu.Unlock()

	metrics.IncRateFetch("fetched")
	return set, nil
}

func (c *RatesCache) fresh(base string) (models.ExchangeRateSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[base]
	if !ok || c.now().Sub(set.FetchedAt) >= c.ttl {
		return models.ExchangeRateSet{}, false
	}
	return set, true
}

// Cached reports whether any rate set, fresh or not, is held for base.
func (c *RatesCache) Cached(base string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sets[strings.ToUpper(base)]
	return ok
}

// ConvertAmount applies rate to amount and rounds to 2 decimals.
func ConvertAmount(amount, rate float64) float64 {
	return math.Round(amount*rate*100) / 100
}

// Convert converts amount from one currency to another.
func (c *RatesCache) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	from, err := models.NormalizeCurrency(from)
	if err != nil {
		return 0, err
	}
	to, err = models.NormalizeCurrency(to)
	if err != nil {
		return 0, err
	}
	if from == to {
		return ConvertAmount(amount, 1), nil
	}

	set, err := c.GetRates(ctx, from)
	if err != nil {
		return 0, err
	}
	rate, ok := set.Rates[to]
	if !ok {
		return 0, fmt.Errorf("%w: no %s rate for %s", ErrRatesUnavailable, to, from)
	}
	return ConvertAmount(amount, rate), nil
}

// Money is an amount ready for display. Converted is false when rates were
// unavailable and the original amount is shown instead.
type Money struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Converted bool    `json:"converted"`
}

// Display converts amount into the display currency, degrading to the
// original amount when no rate can be obtained.
func (c *RatesCache) Display(ctx context.Context, amount float64, from, to string) Money {
	v, err := c.Convert(ctx, amount, from, to)
	if err != nil {
		return Money{Amount: amount, Currency: strings.ToUpper(from)}
	}
	target, _ := models.NormalizeCurrency(to)
	return Money{Amount: v, Currency: target, Converted: true}
}

// Prefetch loads the rate sets of currencies that are neither the display
// currency nor already cached, so penalties can be shown converted. Fetch
// failures are logged and otherwise ignored.
func (c *RatesCache) Prefetch(ctx context.Context, display string, currencies ...string) {
	display = strings.ToUpper(display)
	seen := make(map[string]struct{})

	var g errgroup.Group
	for _, code := range currencies {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || code == display || c.Cached(code) {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		g.Go(func() error {
			_, err := c.GetRates(ctx, code)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("penalty currency prefetch incomplete", "display", display, "error", err)
	}
}
