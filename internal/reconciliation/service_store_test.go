package reconciliation_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlmsim/reconciler/internal/domain"
	"github.com/tlmsim/reconciler/internal/reconciliation"
	"github.com/tlmsim/reconciler/internal/repository"
)

type storeStack struct {
	trades      *repository.TradeRepo
	settlements *repository.SettlementRepo
	breaks      *repository.BreakRepo
	svc         *reconciliation.Service
}

func newStoreStack(t *testing.T) *storeStack {
	t.Helper()
	db, err := repository.InitDB(context.Background(), "sqlite", filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &storeStack{
		trades:      repository.NewTradeRepo(db),
		settlements: repository.NewSettlementRepo(db),
		breaks:      repository.NewBreakRepo(db),
	}
	policies := repository.NewTolerancePolicyRepo(db, domain.DefaultTolerancePolicy())
	engine := reconciliation.NewEngine(s.breaks, s.trades, reconciliation.Options{Workers: 2}, nil)
	s.svc = reconciliation.NewService(s.trades, s.settlements, policies, engine)
	return s
}

var settleDay = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func (s *storeStack) load(t *testing.T, trades map[string]string, tradeOrder []string, actuals map[string]string, actualOrder []string) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	var ts []*domain.ExpectedTrade
	for i, id := range tradeOrder {
		amount := decimal.RequireFromString(trades[id])
		ts = append(ts, &domain.ExpectedTrade{
			ID:             "row-" + id,
			SourceFile:     "trades.csv",
			TradeID:        id,
			Account:        "ACC1",
			Instrument:     "AAPL",
			Side:           domain.SideBuy,
			Quantity:       decimal.NewFromInt(1),
			Price:          amount,
			Currency:       "USD",
			TradeDate:      settleDay.AddDate(0, 0, -2),
			SettlementDate: settleDay,
			CashAmount:     decimal.NewNullDecimal(amount),
			Status:         domain.TradeUnmatched,
			CreatedAt:      created.Add(time.Duration(i)),
		})
	}
	_, err := s.trades.BulkInsert(ctx, ts)
	require.NoError(t, err)

	var as []*domain.ActualSettlement
	for i, ref := range actualOrder {
		as = append(as, &domain.ActualSettlement{
			ID:             "row-" + ref,
			SourceFile:     "actuals.csv",
			ReferenceID:    ref,
			Account:        "ACC1",
			Instrument:     "AAPL",
			Quantity:       decimal.NewFromInt(1),
			CashAmount:     decimal.NewNullDecimal(decimal.RequireFromString(actuals[ref])),
			SettlementDate: settleDay,
			Currency:       "USD",
			CreatedAt:      created.Add(time.Duration(i)),
		})
	}
	_, err = s.settlements.BulkInsert(ctx, as)
	require.NoError(t, err)
}

func (s *storeStack) openBreaks(t *testing.T) []*domain.Break {
	t.Helper()
	list, _, err := s.breaks.List(context.Background(), repository.BreakFilter{Status: string(domain.BreakOpen)})
	require.NoError(t, err)
	return list
}

func TestService_RerunOnUnchangedStoreCreatesNothing(t *testing.T) {
	ctx := context.Background()
	s := newStoreStack(t)
	s.load(t,
		map[string]string{"T1": "100.10", "T2": "100.00"}, []string{"T1", "T2"},
		map[string]string{"A1": "100.10", "A2": "100.50"}, []string{"A1", "A2"},
	)

	first := s.svc.RunFullReconciliation(ctx)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Matched)
	require.Equal(t, 1, first.BreaksCreated)

	breaks := s.openBreaks(t)
	require.Len(t, breaks, 1)
	assert.Equal(t, "T2", breaks[0].TradeRef)
	assert.Equal(t, "A2", breaks[0].ActualReference)

	t1, err := s.trades.GetByID(ctx, "row-T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeMatched, t1.Status)
	assert.Equal(t, "row-A1", t1.MatchedSettlementID)

	second := s.svc.RunFullReconciliation(ctx)
	require.NoError(t, second.Err)
	assert.Zero(t, second.Matched)
	assert.Zero(t, second.BreaksCreated)
	assert.Equal(t, 1, second.BreaksSkippedAsDuplicate)
	assert.Len(t, s.openBreaks(t), 1)
}

func TestService_RerunWhenLaterTradeClaimsClosestSettlement(t *testing.T) {
	ctx := context.Background()
	s := newStoreStack(t)
	s.load(t,
		map[string]string{"T1": "100.00", "T2": "100.05"}, []string{"T1", "T2"},
		map[string]string{"A1": "100.05", "A2": "100.10"}, []string{"A1", "A2"},
	)

	first := s.svc.RunFullReconciliation(ctx)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Matched)
	require.Equal(t, 1, first.BreaksCreated)
	breaks := s.openBreaks(t)
	require.Len(t, breaks, 1)
	assert.Equal(t, "A2", breaks[0].ActualReference)

	second := s.svc.RunFullReconciliation(ctx)
	require.NoError(t, second.Err)
	assert.Zero(t, second.Matched)
	assert.Zero(t, second.BreaksCreated)
	assert.Len(t, s.openBreaks(t), 1)
}
