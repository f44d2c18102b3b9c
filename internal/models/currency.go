package models

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrInvalidInput, code)
	}
	return unit.String(), nil
}

type ExchangeRateSet struct {
	BaseCurrency string             `json:"base_currency"`
	Rates        map[string]float64 `json:"rates"`
	FetchedAt    time.Time          `json:"fetched_at"`
}
