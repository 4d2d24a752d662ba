// Package currency validates and normalizes ISO 4217 codes on ingested rows.
package currency

import (
	"fmt"
	"strings"
)

// minorUnits maps supported codes to their number of decimal places.
var minorUnits = map[string]int{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CHF": 2,
	"JPY": 0,
	"CAD": 2,
	"AUD": 2,
	"HKD": 2,
	"SGD": 2,
	"SEK": 2,
	"NOK": 2,
	"DKK": 2,
	"KES": 2,
	"NGN": 2,
	"ZAR": 2,
}

// Normalize trims and upper-cases code and rejects codes outside the
// supported set.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return "", fmt.Errorf("currency is required")
	}
	if _, ok := minorUnits[c]; !ok {
		return "", fmt.Errorf("unsupported currency: %s", code)
	}
	return c, nil
}

// MinorUnits returns the number of decimal places for a supported code.
func MinorUnits(code string) (int, error) {
	n, ok := minorUnits[code]
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", code)
	}
	return n, nil
}
