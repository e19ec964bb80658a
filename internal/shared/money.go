package shared

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Round2 rounds a monetary amount to 2 decimal places. Unit prices and line
// totals are rounded here and nowhere else.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney renders an amount with thousands separators for user-facing
// messages. Storage and arithmetic always use the raw float.
func FormatMoney(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}
