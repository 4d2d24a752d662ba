package reconciliation

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tlmsim/reconciler/internal/domain"
)

// TradeSource loads the unresolved expected trades and records matches.
type TradeSource interface {
	TradeStatusWriter
	ListUnmatched(ctx context.Context) ([]*domain.ExpectedTrade, error)
}

// SettlementSource yields the settlements still available for matching.
type SettlementSource interface {
	ListUnconsumed(ctx context.Context) ([]*domain.ActualSettlement, error)
}

type PolicySource interface {
	Latest(ctx context.Context) (domain.TolerancePolicy, error)
}

// Service loads the full unresolved population from storage and hands it to
// the engine. Runs are serialized within a process.
type Service struct {
	trades      TradeSource
	settlements SettlementSource
	policies    PolicySource
	engine      *Engine
	mu          sync.Mutex
}

func NewService(trades TradeSource, settlements SettlementSource, policies PolicySource, engine *Engine) *Service {
	return &Service{
		trades:      trades,
		settlements: settlements,
		policies:    policies,
		engine:      engine,
	}
}

// RunFullReconciliation matches every unmatched trade against every
// settlement not already consumed by an earlier match, under the latest
// tolerance policy. Rerunning on unchanged data reproduces the same outcomes.
func (s *Service) RunFullReconciliation(ctx context.Context) *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, err := s.policies.Latest(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("load tolerance policy: %w", err))
	}
	trades, err := s.trades.ListUnmatched(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("load expected trades: %w", err))
	}
	if len(trades) == 0 {
		return &RunSummary{Message: "No trades to match"}
	}
	actuals, err := s.settlements.ListUnconsumed(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("load actual settlements: %w", err))
	}

	log.WithFields(log.Fields{
		"component":      "reconciliation",
		"trades":         len(trades),
		"actuals":        len(actuals),
		"cash_tolerance": policy.CashTolerance.String(),
		"date_tolerance": policy.DateToleranceDays,
	}).Info("Starting run")

	return s.engine.Run(ctx, trades, actuals, policy)
}

func (s *Service) abort(err error) *RunSummary {
	log.WithField("component", "reconciliation").WithError(err).Error("Run aborted")
	summary := &RunSummary{}
	return summary.fail(err)
}
