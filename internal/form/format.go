package form

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency prefixes formatted estimates when none is configured.
const DefaultCurrency = "₹"

var printer = message.NewPrinter(language.English)

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatPrice renders amount rounded to two decimals with grouped thousands,
// e.g. "₹ 350,000.00".
func FormatPrice(currency string, amount float64) string {
	return currency + " " + printer.Sprintf("%.2f", roundCents(amount))
}
