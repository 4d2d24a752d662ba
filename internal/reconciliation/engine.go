package reconciliation

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tlmsim/reconciler/internal/domain"
	"github.com/tlmsim/reconciler/internal/metrics"
)

// RunSummary is what the triggering caller gets back from a run.
type RunSummary struct {
	Matched                  int    `json:"matched"`
	BreaksCreated            int    `json:"breaks_created"`
	BreaksSkippedAsDuplicate int    `json:"breaks_skipped_as_duplicate"`
	RecordsSkippedAsInvalid  int    `json:"records_skipped_as_invalid"`
	PersistenceFailures      int    `json:"persistence_failures"`
	Message                  string `json:"message"`
	FatalError               string `json:"fatal_error,omitempty"`

	// Err is the fatal error, if any, for callers that branch on it.
	Err error `json:"-"`
}

func (s *RunSummary) fail(err error) *RunSummary {
	s.Err = err
	s.FatalError = err.Error()
	s.Message = "Matching aborted"
	return s
}

// TradeStatusWriter records the MATCHED transition on expected trades along
// with the settlement the match consumed.
type TradeStatusWriter interface {
	MarkMatched(ctx context.Context, id, settlementID string) error
}

type Options struct {
	// Workers bounds how many buckets are matched concurrently. Zero means
	// GOMAXPROCS.
	Workers  int
	Severity SeverityPolicy
}

// Engine runs one reconciliation pass: index, match, classify, dedup,
// persist. Everything up to persistence is pure and deterministic for a given
// input, independent of Workers.
type Engine struct {
	gate    *DedupGate
	trades  TradeStatusWriter
	opts    Options
	metrics *metrics.Metrics
}

func NewEngine(store BreakStore, trades TradeStatusWriter, opts Options, m *metrics.Metrics) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Severity.MediumMultiplier.IsZero() {
		opts.Severity = DefaultSeverityPolicy()
	}
	return &Engine{
		gate:    NewDedupGate(store),
		trades:  trades,
		opts:    opts,
		metrics: m,
	}
}

// Plan is the computed, not yet persisted, result of a run.
type Plan struct {
	Outcomes []Outcome
	Breaks   []*domain.Break
	Invalid  []error
}

// Plan validates the inputs and computes match outcomes and fingerprinted
// candidate breaks. Trades are processed in (created_at, id) order.
func (e *Engine) Plan(ctx context.Context, trades []*domain.ExpectedTrade, actuals []*domain.ActualSettlement, policy domain.TolerancePolicy) (*Plan, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{}
	validActuals := make([]*domain.ActualSettlement, 0, len(actuals))
	for _, a := range actuals {
		if err := a.Validate(); err != nil {
			plan.Invalid = append(plan.Invalid, err)
			continue
		}
		validActuals = append(validActuals, a)
	}
	ordered := make([]*domain.ExpectedTrade, 0, len(trades))
	for _, t := range trades {
		if err := t.Validate(); err != nil {
			plan.Invalid = append(plan.Invalid, err)
			continue
		}
		ordered = append(ordered, t)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	index := NewCandidateIndex(validActuals)
	outcomes, err := e.matchAll(ctx, index, ordered, policy)
	if err != nil {
		return nil, err
	}
	plan.Outcomes = outcomes

	classifier := NewClassifier(policy, e.opts.Severity)
	places := policy.Precision()
	for _, o := range outcomes {
		b := classifier.Classify(o)
		if b == nil {
			continue
		}
		b.Fingerprint = Fingerprint(b, places)
		plan.Breaks = append(plan.Breaks, b)
	}
	return plan, nil
}

// matchAll shards trades by bucket. Buckets are disjoint, so each worker owns
// a Matcher and writes only its trades' slots in the result slice. Within a
// bucket, matches are settled first and unmatched trades then take their
// closest unconsumed counterpart, so a rerun over the remaining population
// reaches the same outcomes.
func (e *Engine) matchAll(ctx context.Context, index *CandidateIndex, trades []*domain.ExpectedTrade, policy domain.TolerancePolicy) ([]Outcome, error) {
	byBucket := make(map[BucketKey][]int)
	var keys []BucketKey
	for i, t := range trades {
		k := tradeKey(t)
		if _, ok := byBucket[k]; !ok {
			keys = append(keys, k)
		}
		byBucket[k] = append(byBucket[k], i)
	}

	outcomes := make([]Outcome, len(trades))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, k := range keys {
		positions := byBucket[k]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m := NewMatcher(index, policy)
			for _, i := range positions {
				outcomes[i] = m.Match(trades[i])
			}
			// Partial counterparts come from what no match claimed.
			for _, i := range positions {
				if !outcomes[i].Matched {
					outcomes[i] = m.Counterpart(trades[i])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match trades: %w", err)
	}
	return outcomes, nil
}

// Run executes a full pass and persists its results. Per-record failures are
// counted and never abort the run; tolerance and connectivity errors do.
func (e *Engine) Run(ctx context.Context, trades []*domain.ExpectedTrade, actuals []*domain.ActualSettlement, policy domain.TolerancePolicy) *RunSummary {
	start := time.Now()
	logger := log.WithField("component", "reconciliation")
	summary := &RunSummary{}
	defer func() {
		e.metrics.ObserveRun(summary.Err == nil, time.Since(start))
	}()

	plan, err := e.Plan(ctx, trades, actuals, policy)
	if err != nil {
		logger.WithError(err).Error("Run aborted before matching")
		return summary.fail(err)
	}

	summary.RecordsSkippedAsInvalid = len(plan.Invalid)
	for _, verr := range plan.Invalid {
		logger.WithError(verr).Warn("Skipping invalid record")
	}
	e.metrics.AddInvalid(len(plan.Invalid))

	for _, o := range plan.Outcomes {
		if !o.Matched {
			continue
		}
		if err := e.trades.MarkMatched(ctx, o.Trade.ID, o.Candidate.ID); err != nil {
			if isFatal(err) {
				return summary.fail(fmt.Errorf("update trade %s: %w", o.Trade.TradeID, err))
			}
			summary.PersistenceFailures++
			logger.WithError(err).WithField("trade_id", o.Trade.TradeID).Error("Failed to mark trade matched")
			continue
		}
		o.Trade.Status = domain.TradeMatched
		o.Trade.MatchedSettlementID = o.Candidate.ID
		summary.Matched++
		logger.WithFields(log.Fields{
			"trade_id":    o.Trade.TradeID,
			"reference":   o.Candidate.ReferenceID,
			"basis":       o.Basis,
			"difference":  o.Difference.String(),
			"date_offset": o.DateOffset,
		}).Debug("Matched")
	}
	e.metrics.AddMatched(summary.Matched)

	for _, b := range plan.Breaks {
		err := e.gate.Admit(ctx, b)
		switch {
		case err == nil:
			summary.BreaksCreated++
			e.metrics.BreakCreated(b)
		case errors.Is(err, domain.ErrDuplicateFingerprint):
			summary.BreaksSkippedAsDuplicate++
			e.metrics.AddDuplicates(1)
		case isFatal(err):
			return summary.fail(fmt.Errorf("persist breaks: %w", err))
		default:
			perr := &domain.PersistenceError{Fingerprint: b.Fingerprint, TradeID: b.TradeRef, Err: err}
			summary.PersistenceFailures++
			e.metrics.AddPersistenceFailures(1)
			logger.WithError(perr).Error("Failed to persist break")
		}
	}

	summary.Message = "Matching completed"
	if summary.PersistenceFailures > 0 {
		summary.Message = fmt.Sprintf("Matching completed with %d persistence failures", summary.PersistenceFailures)
	}
	logger.WithFields(log.Fields{
		"trades":     len(trades),
		"actuals":    len(actuals),
		"matched":    summary.Matched,
		"created":    summary.BreaksCreated,
		"duplicates": summary.BreaksSkippedAsDuplicate,
		"invalid":    summary.RecordsSkippedAsInvalid,
		"failures":   summary.PersistenceFailures,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("Run finished")
	return summary
}

// isFatal reports errors that mean the store is unreachable rather than that
// one record was rejected.
func isFatal(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
