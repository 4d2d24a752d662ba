package reconciliation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tlmsim/reconciler/internal/currency"
	"github.com/tlmsim/reconciler/internal/domain"
)

// SeverityPolicy maps |difference| to a severity tier relative to the cash
// tolerance. Epsilon replaces a zero tolerance so the bands stay meaningful.
type SeverityPolicy struct {
	LowMultiplier    decimal.Decimal
	MediumMultiplier decimal.Decimal
	Epsilon          decimal.Decimal
}

func DefaultSeverityPolicy() SeverityPolicy {
	return SeverityPolicy{
		LowMultiplier:    decimal.NewFromInt(2),
		MediumMultiplier: decimal.NewFromInt(10),
		Epsilon:          decimal.New(1, -2),
	}
}

// Band is the tolerance the multipliers apply to.
func (p SeverityPolicy) Band(tolerance decimal.Decimal) decimal.Decimal {
	if tolerance.LessThan(p.Epsilon) {
		return p.Epsilon
	}
	return tolerance
}

// Grade assigns LOW when |diff| <= low*band, MEDIUM when <= medium*band,
// HIGH otherwise. Monotone in |diff| for a fixed tolerance.
func (p SeverityPolicy) Grade(diff, tolerance decimal.Decimal) domain.Severity {
	abs := diff.Abs()
	band := p.Band(tolerance)
	switch {
	case abs.LessThanOrEqual(band.Mul(p.LowMultiplier)):
		return domain.SeverityLow
	case abs.LessThanOrEqual(band.Mul(p.MediumMultiplier)):
		return domain.SeverityMedium
	default:
		return domain.SeverityHigh
	}
}

// Classifier turns matcher outcomes into candidate breaks. The breaks it
// returns carry no id, fingerprint or timestamps yet.
type Classifier struct {
	tolerance domain.TolerancePolicy
	severity  SeverityPolicy
}

func NewClassifier(tolerance domain.TolerancePolicy, severity SeverityPolicy) *Classifier {
	return &Classifier{tolerance: tolerance, severity: severity}
}

// Classify returns nil when the outcome is a clean match.
func (c *Classifier) Classify(o Outcome) *domain.Break {
	if o.Candidate == nil {
		return c.missing(o.Trade)
	}

	exceeds := o.Score.GreaterThan(c.tolerance.CashTolerance)
	if o.Matched && !exceeds {
		return nil
	}

	b := c.fromCandidate(o)
	if o.Matched {
		// The matcher never pairs outside tolerance; if it did, flag it louder.
		b.Severity = b.Severity.Escalate()
		b.Reason = fmt.Sprintf("matched settlement %s: %s", o.Candidate.ReferenceID, b.Reason)
	}
	return b
}

func (c *Classifier) missing(t *domain.ExpectedTrade) *domain.Break {
	return &domain.Break{
		Type:            domain.BreakStock,
		ExpectedTradeID: t.ID,
		TradeRef:        t.TradeID,
		Account:         t.Account,
		Instrument:      t.Instrument,
		ExpectedValue:   t.Quantity,
		Severity:        domain.SeverityHigh,
		Reason:          fmt.Sprintf("no settlement found within %s", pluralDays(c.tolerance.DateToleranceDays)),
		Status:          domain.BreakOpen,
	}
}

func (c *Classifier) fromCandidate(o Outcome) *domain.Break {
	t, a := o.Trade, o.Candidate
	b := &domain.Break{
		ExpectedTradeID:    t.ID,
		ActualSettlementID: a.ID,
		ActualReference:    a.ReferenceID,
		TradeRef:           t.TradeID,
		Account:            t.Account,
		Instrument:         t.Instrument,
		Difference:         decimal.NewNullDecimal(o.Difference),
		Severity:           c.severity.Grade(o.Difference, c.tolerance.CashTolerance),
		Status:             domain.BreakOpen,
	}

	switch o.Basis {
	case BasisCash:
		b.Type = domain.BreakCash
		b.ExpectedValue = t.CashAmount.Decimal
		b.ActualValue = a.CashAmount
		b.Reason = fmt.Sprintf("cash amount differs by %s exceeding tolerance %s",
			o.Score.StringFixed(c.cashPlaces(t.Currency)), c.tolerance.CashTolerance.String())
	default:
		b.Type = domain.BreakStock
		b.ExpectedValue = t.Quantity
		b.ActualValue = decimal.NewNullDecimal(a.Quantity)
		b.Reason = fmt.Sprintf("quantity differs by %s exceeding tolerance %s",
			o.Score.String(), c.tolerance.CashTolerance.String())
	}
	return b
}

// cashPlaces is the display precision of a cash difference: the currency's
// minor units, widened when the tolerance is finer.
func (c *Classifier) cashPlaces(code string) int32 {
	minor, err := currency.MinorUnits(code)
	if err != nil {
		return c.tolerance.Precision()
	}
	places := int32(minor)
	if s := scale(c.tolerance.CashTolerance); s > places {
		places = s
	}
	return places
}

// scale counts significant decimal places, ignoring trailing zeros.
func scale(d decimal.Decimal) int32 {
	places := -d.Exponent()
	for places > 0 && d.Equal(d.Round(places-1)) {
		places--
	}
	if places < 0 {
		return 0
	}
	return places
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
