package booking

import (
	"reflect"
	"strings"

	"flight_booking/internal/models"

	"github.com/go-playground/validator/v10"
)

const (
	minE164Digits = 8
	maxE164Digits = 15
)

var fieldReasons = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"e164":     "must form a valid E.164 number of 8-15 digits with the country code",
	"datetime": "must be a date in YYYY-MM-DD format",
	"min":      "must not be negative",
	"count":    "does not match the number of passengers on the offer",
	"unknown":  "does not belong to any passenger",
}

// Validator checks passenger forms. Field names are reported by their JSON
// names.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(phoneValidation, models.PassengerForm{})
	return &Validator{v: v}
}

// Passengers validates every form and returns all failures at once.
func (val *Validator) Passengers(forms []models.PassengerForm) []models.FieldError {
	var out []models.FieldError
	for i, f := range forms {
		err := val.v.Struct(f)
		if err == nil {
			continue
		}
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			out = append(out, models.FieldError{Passenger: i, Field: "form", Reason: err.Error()})
			continue
		}
		for _, fe := range verrs {
			out = append(out, models.FieldError{Passenger: i, Field: fe.Field(), Reason: reason(fe.Tag())})
		}
	}
	return out
}

// phoneValidation checks that the country calling code and the number form
// a valid E.164 string. Empty parts are left to the required tags.
func phoneValidation(sl validator.StructLevel) {
	f := sl.Current().Interface().(models.PassengerForm)
	if f.PhoneNumber == "" || f.PhoneCountryCode == "" {
		return
	}
	e164, ok := ToE164(f.PhoneCountryCode, f.PhoneNumber)
	if !ok || sl.Validator().Var(e164, "e164") != nil {
		sl.ReportError(f.PhoneNumber, "phone_number", "PhoneNumber", "e164", "")
	}
}

// ToE164 joins a calling code ("+44", "44") and a local number, ignoring
// common separators. It fails on any other character or when the result
// does not have 8-15 digits.
func ToE164(countryCode, number string) (string, bool) {
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if cc == "" || len(cc) > 3 || strings.HasPrefix(cc, "0") {
		return "", false
	}
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range cc {
		if r < '0' || r > '9' {
			return "", false
		}
		b.WriteRune(r)
	}
	digits := len(cc)
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	if digits < minE164Digits || digits > maxE164Digits {
		return "", false
	}
	return b.String(), true
}

func reason(tag string) string {
	if r, ok := fieldReasons[tag]; ok {
		return r
	}
	return "is invalid"
}
