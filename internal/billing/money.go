package billing

import (
	"math"
	"strconv"
)

// ToCents converts a dollar amount to integer cents, rounding half away
// from zero. ok is false for NaN and infinities.
func ToCents(amount float64) (cents int64, ok bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, false
	}
	return int64(math.Round(amount * 100)), true
}

// FormatCents renders cents as a plain decimal dollar string, e.g. "1234.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	frac := cents % 100
	if frac < 10 {
		return sign + whole + ".0" + strconv.FormatInt(frac, 10)
	}
	return sign + whole + "." + strconv.FormatInt(frac, 10)
}
