package currency

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format renders m with its ISO code using the number conventions of tag,
// e.g. "EUR 92.00" for English.
func Format(m Money, tag language.Tag) string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return message.NewPrinter(tag).Sprintf("%.2f %s", m.Amount, m.Currency)
	}
	return message.NewPrinter(tag).Sprint(currency.ISO(unit.Amount(m.Amount)))
}
