package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tlmsim/reconciler/internal/domain"
)

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cash(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func policy(cashTol string, days int) domain.TolerancePolicy {
	return domain.TolerancePolicy{CashTolerance: dec(cashTol), DateToleranceDays: days}
}

// trade builds a BUY of 100 in A1/AAPL settling on date. seq orders
// created_at so trades are processed in the order they are declared.
func trade(seq int, tradeID, amount, date string) *domain.ExpectedTrade {
	t := &domain.ExpectedTrade{
		ID:             "row-" + tradeID,
		TradeID:        tradeID,
		Account:        "A1",
		Instrument:     "AAPL",
		Side:           domain.SideBuy,
		Quantity:       decimal.NewFromInt(100),
		Price:          dec("100"),
		Currency:       "USD",
		TradeDate:      day(date).AddDate(0, 0, -2),
		SettlementDate: day(date),
		Status:         domain.TradeUnmatched,
		CreatedAt:      base.Add(time.Duration(seq) * time.Nanosecond),
	}
	if amount != "" {
		t.CashAmount = cash(amount)
	}
	return t
}

func actual(ref, amount, date string) *domain.ActualSettlement {
	a := &domain.ActualSettlement{
		ID:             "row-" + ref,
		ReferenceID:    ref,
		Account:        "A1",
		Instrument:     "AAPL",
		Quantity:       decimal.NewFromInt(100),
		SettlementDate: day(date),
		Currency:       "USD",
	}
	if amount != "" {
		a.CashAmount = cash(amount)
	}
	return a
}

// memStore is an in-memory BreakStore and TradeStatusWriter.
type memStore struct {
	mu        sync.Mutex
	breaks    []*domain.Break
	history   []*domain.BreakHistory
	statuses  map[string]domain.TradeStatus
	consumed  map[string]string
	findErr   error
	createErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		statuses: make(map[string]domain.TradeStatus),
		consumed: make(map[string]string),
	}
}

func (s *memStore) FindUnresolvedByFingerprint(_ context.Context, fp string) (*domain.Break, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, b := range s.breaks {
		if b.Fingerprint == fp && b.Status != domain.BreakResolved {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, b *domain.Break, h *domain.BreakHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *b
	s.breaks = append(s.breaks, &cp)
	s.history = append(s.history, h)
	return nil
}

func (s *memStore) MarkMatched(_ context.Context, id, settlementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.statuses[id] = domain.TradeMatched
	s.consumed[settlementID] = id
	return nil
}

// unmatched and unconsumed narrow a population the way the stores do
// between runs.
func (s *memStore) unmatched(trades []*domain.ExpectedTrade) []*domain.ExpectedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ExpectedTrade
	for _, t := range trades {
		if s.statuses[t.ID] != domain.TradeMatched {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) unconsumed(actuals []*domain.ActualSettlement) []*domain.ActualSettlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ActualSettlement
	for _, a := range actuals {
		if _, ok := s.consumed[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) setStatus(status domain.BreakStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.breaks {
		b.Status = status
	}
}
