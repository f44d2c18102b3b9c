package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthenticationRequired suspends a submission until the user signs in.
	ErrAuthenticationRequired = errors.New("authentication required")
)

type FieldError struct {
	Passenger int    `json:"passenger"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

// ValidationError blocks a step transition. It never reaches the network.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("passenger[%d].%s: %s", f.Passenger, f.Field, f.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

const (
	ExpiredReason  = "expired"
	StaleReason    = "stale"
	ExpiringReason = "expiring"
)

// ExpirationError forces the refresh path.
type ExpirationError struct {
	SearchID string
	Reason   string
}

func (e *ExpirationError) Error() string {
	return fmt.Sprintf("search %s is %s, refresh required", e.SearchID, e.Reason)
}

// SupplierError is a failure reported by the search, rates or booking
// collaborator. Reason is shown to the user verbatim.
type SupplierError struct {
	Supplier string
	Reason   string
	Err      error
}

func (e *SupplierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s supplier: %s: %v", e.Supplier, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s supplier: %s", e.Supplier, e.Reason)
}

func (e *SupplierError) Unwrap() error { return e.Err }
