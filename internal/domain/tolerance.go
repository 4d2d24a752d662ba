package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// TolerancePolicy is one version of the matching thresholds. A run reads the
// latest version once and holds it fixed.
type TolerancePolicy struct {
	ID                string          `json:"id,omitempty"`
	CashTolerance     decimal.Decimal `json:"cash_tolerance"`
	DateToleranceDays int             `json:"date_tolerance_days"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// DefaultTolerancePolicy is used when no version has been stored yet.
func DefaultTolerancePolicy() TolerancePolicy {
	return TolerancePolicy{CashTolerance: decimal.Zero, DateToleranceDays: 0}
}

// NewTolerancePolicy builds a policy from user supplied floats, rejecting
// non-finite and negative values.
func NewTolerancePolicy(cash float64, days int) (TolerancePolicy, error) {
	if math.IsNaN(cash) || math.IsInf(cash, 0) {
		return TolerancePolicy{}, &ToleranceConfigError{Field: "cash_tolerance", Reason: fmt.Sprintf("must be finite, got %v", cash)}
	}
	p := TolerancePolicy{CashTolerance: decimal.NewFromFloat(cash), DateToleranceDays: days}
	if err := p.Validate(); err != nil {
		return TolerancePolicy{}, err
	}
	return p, nil
}

func (p TolerancePolicy) Validate() error {
	if p.CashTolerance.IsNegative() {
		return &ToleranceConfigError{Field: "cash_tolerance", Reason: "must not be negative, got " + p.CashTolerance.String()}
	}
	if p.DateToleranceDays < 0 {
		return &ToleranceConfigError{Field: "date_tolerance_days", Reason: fmt.Sprintf("must not be negative, got %d", p.DateToleranceDays)}
	}
	return nil
}

// Precision is the number of decimal places differences are rounded to when
// fingerprinting: the tolerance's own scale, never less than cents.
func (p TolerancePolicy) Precision() int32 {
	places := -p.CashTolerance.Exponent()
	if p.CashTolerance.IsZero() || places < 2 {
		return 2
	}
	// Trailing zeros (0.0100) don't add precision.
	for places > 2 && p.CashTolerance.Equal(p.CashTolerance.Round(places-1)) {
		places--
	}
	return places
}
