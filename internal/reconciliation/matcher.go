package reconciliation

import (
	"github.com/shopspring/decimal"

	"github.com/tlmsim/reconciler/internal/domain"
)

// Basis names the field a candidate was scored on.
type Basis string

const (
	BasisCash     Basis = "cash"
	BasisQuantity Basis = "quantity"
)

// Outcome is the matcher's verdict for one trade.
//
// Candidate is the best surviving settlement, or nil when nothing in the
// trade's bucket passed the date and side filters. Matched is true only when
// Candidate's score is within the cash tolerance; otherwise Candidate is the
// best partial counterpart and the trade stays unmatched.
type Outcome struct {
	Trade      *domain.ExpectedTrade
	Candidate  *domain.ActualSettlement
	Matched    bool
	Basis      Basis
	Difference decimal.Decimal // expected minus actual on Basis
	Score      decimal.Decimal // |Difference|
	DateOffset int
}

// Matcher pairs trades with settlements. A Matcher owns its consumed set, so
// one instance must only be used from one goroutine; instances working on
// disjoint buckets can share the same index.
type Matcher struct {
	index    *CandidateIndex
	policy   domain.TolerancePolicy
	consumed map[string]struct{}
}

func NewMatcher(index *CandidateIndex, policy domain.TolerancePolicy) *Matcher {
	return &Matcher{
		index:    index,
		policy:   policy,
		consumed: make(map[string]struct{}),
	}
}

// Match selects the best candidate for t and, if it is within tolerance,
// consumes it so no later trade in this run can claim it.
func (m *Matcher) Match(t *domain.ExpectedTrade) Outcome {
	best := m.best(t)
	out := best.outcome(t)
	if best != nil && best.score.LessThanOrEqual(m.policy.CashTolerance) {
		out.Matched = true
		m.consumed[best.actual.ID] = struct{}{}
	}
	return out
}

// Counterpart picks the closest settlement for an unmatched trade among those
// not consumed so far, without consuming it. Called once every trade in the
// bucket has been through Match, it sees exactly what a rerun would load.
func (m *Matcher) Counterpart(t *domain.ExpectedTrade) Outcome {
	return m.best(t).outcome(t)
}

func (m *Matcher) best(t *domain.ExpectedTrade) *scored {
	var best *scored
	for _, a := range m.index.Window(tradeKey(t), t.SettlementDate, m.policy.DateToleranceDays) {
		if _, used := m.consumed[a.ID]; used {
			continue
		}
		if a.Side != "" && a.Side != t.Side {
			continue
		}
		c := score(t, a)
		if best == nil || c.better(best) {
			cc := c
			best = &cc
		}
	}
	return best
}

type scored struct {
	actual *domain.ActualSettlement
	basis  Basis
	diff   decimal.Decimal
	score  decimal.Decimal
	offset int
}

func (s *scored) outcome(t *domain.ExpectedTrade) Outcome {
	out := Outcome{Trade: t}
	if s == nil {
		return out
	}
	out.Candidate = s.actual
	out.Basis = s.basis
	out.Difference = s.diff
	out.Score = s.score
	out.DateOffset = s.offset
	return out
}

func score(t *domain.ExpectedTrade, a *domain.ActualSettlement) scored {
	s := scored{actual: a, offset: dayOffset(t.SettlementDate, a.SettlementDate)}
	if t.CashAmount.Valid && a.CashAmount.Valid {
		s.basis = BasisCash
		s.diff = t.CashAmount.Decimal.Sub(a.CashAmount.Decimal)
	} else {
		s.basis = BasisQuantity
		s.diff = t.Quantity.Sub(a.Quantity)
	}
	s.score = s.diff.Abs()
	return s
}

// better is the total tie-break order: score, date offset, reference id, row id.
func (s scored) better(o *scored) bool {
	if c := s.score.Cmp(o.score); c != 0 {
		return c < 0
	}
	if s.offset != o.offset {
		return s.offset < o.offset
	}
	if s.actual.ReferenceID != o.actual.ReferenceID {
		return s.actual.ReferenceID < o.actual.ReferenceID
	}
	return s.actual.ID < o.actual.ID
}
