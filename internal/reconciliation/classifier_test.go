package reconciliation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlmsim/reconciler/internal/domain"
)

func TestSeverityPolicy_Grade(t *testing.T) {
	p := DefaultSeverityPolicy()
	tests := []struct {
		diff      string
		tolerance string
		want      domain.Severity
	}{
		{"0.20", "0.10", domain.SeverityLow},
		{"-0.21", "0.10", domain.SeverityMedium},
		{"1.00", "0.10", domain.SeverityMedium},
		{"1.01", "0.10", domain.SeverityHigh},
		// Zero tolerance bands against epsilon = 0.01.
		{"0.02", "0", domain.SeverityLow},
		{"0.03", "0", domain.SeverityMedium},
		{"-0.05", "0", domain.SeverityMedium},
		{"0.10", "0", domain.SeverityMedium},
		{"0.11", "0", domain.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.diff+"/"+tt.tolerance, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Grade(dec(tt.diff), dec(tt.tolerance)))
		})
	}
}

func TestSeverityPolicy_GradeIsMonotone(t *testing.T) {
	p := DefaultSeverityPolicy()
	for _, tol := range []string{"0", "0.01", "0.5", "25"} {
		prev := 0
		for cents := int64(0); cents <= 100000; cents += 7 {
			rank := p.Grade(decimal.New(cents, -2), dec(tol)).Rank()
			require.GreaterOrEqual(t, rank, prev, "tolerance %s at %d cents", tol, cents)
			prev = rank
		}
	}
}

func TestClassifier_CleanMatchHasNoBreak(t *testing.T) {
	pol := policy("0", 0)
	out := NewMatcher(NewCandidateIndex([]*domain.ActualSettlement{
		actual("R1", "10000.00", "2024-01-10"),
	}), pol).Match(trade(1, "T1", "10000.00", "2024-01-10"))

	assert.Nil(t, NewClassifier(pol, DefaultSeverityPolicy()).Classify(out))
}

func TestClassifier_CashBreak(t *testing.T) {
	pol := policy("0", 0)
	out := NewMatcher(NewCandidateIndex([]*domain.ActualSettlement{
		actual("R1", "10000.05", "2024-01-10"),
	}), pol).Match(trade(1, "T1", "10000.00", "2024-01-10"))

	b := NewClassifier(pol, DefaultSeverityPolicy()).Classify(out)
	require.NotNil(t, b)
	assert.Equal(t, domain.BreakCash, b.Type)
	assert.Equal(t, domain.SeverityMedium, b.Severity)
	assert.Equal(t, domain.BreakOpen, b.Status)
	require.True(t, b.Difference.Valid)
	assert.Equal(t, "-0.05", b.Difference.Decimal.StringFixed(2))
	assert.True(t, dec("10000.00").Equal(b.ExpectedValue))
	assert.True(t, dec("10000.05").Equal(b.ActualValue.Decimal))
	assert.Equal(t, "R1", b.ActualReference)
	assert.Equal(t, "row-R1", b.ActualSettlementID)
	assert.Equal(t, "T1", b.TradeRef)
	assert.Equal(t, "cash amount differs by 0.05 exceeding tolerance 0", b.Reason)
}

func TestClassifier_CashReasonUsesCurrencyMinorUnits(t *testing.T) {
	tests := []struct {
		name      string
		currency  string
		tolerance string
		amount    string
		want      string
	}{
		{"cents", "USD", "0", "10000.05", "cash amount differs by 0.05 exceeding tolerance 0"},
		{"no minor units", "JPY", "0", "10003", "cash amount differs by 3 exceeding tolerance 0"},
		{"tolerance finer than currency", "JPY", "0.5", "10003", "cash amount differs by 3.0 exceeding tolerance 0.5"},
		{"tolerance finer than cents", "USD", "0.001", "10000.005", "cash amount differs by 0.005 exceeding tolerance 0.001"},
		{"unknown currency", "XAU", "0", "10000.05", "cash amount differs by 0.05 exceeding tolerance 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := policy(tt.tolerance, 0)
			tr := trade(1, "T1", "10000", "2024-01-10")
			tr.Currency = tt.currency
			out := NewMatcher(NewCandidateIndex([]*domain.ActualSettlement{
				actual("R1", tt.amount, "2024-01-10"),
			}), pol).Match(tr)

			b := NewClassifier(pol, DefaultSeverityPolicy()).Classify(out)
			require.NotNil(t, b)
			assert.Equal(t, domain.BreakCash, b.Type)
			assert.Equal(t, tt.want, b.Reason)
		})
	}
}

func TestClassifier_QuantityBreak(t *testing.T) {
	pol := policy("0.5", 0)
	a := actual("R1", "", "2024-01-10")
	a.Quantity = dec("97")
	out := NewMatcher(NewCandidateIndex([]*domain.ActualSettlement{a}), pol).
		Match(trade(1, "T1", "10000.00", "2024-01-10"))

	b := NewClassifier(pol, DefaultSeverityPolicy()).Classify(out)
	require.NotNil(t, b)
	assert.Equal(t, domain.BreakStock, b.Type)
	assert.True(t, dec("3").Equal(b.Difference.Decimal))
	assert.True(t, dec("100").Equal(b.ExpectedValue))
	assert.True(t, dec("97").Equal(b.ActualValue.Decimal))
	assert.Equal(t, domain.SeverityMedium, b.Severity)
}

func TestClassifier_MissingSettlement(t *testing.T) {
	for days, reason := range map[int]string{
		0: "no settlement found within 0 days",
		1: "no settlement found within 1 day",
		3: "no settlement found within 3 days",
	} {
		pol := policy("100", days)
		out := NewMatcher(NewCandidateIndex(nil), pol).Match(trade(1, "T1", "10000.00", "2024-01-10"))

		b := NewClassifier(pol, DefaultSeverityPolicy()).Classify(out)
		require.NotNil(t, b)
		assert.Equal(t, domain.BreakStock, b.Type)
		assert.Equal(t, domain.SeverityHigh, b.Severity)
		assert.False(t, b.ActualValue.Valid)
		assert.False(t, b.Difference.Valid)
		assert.Empty(t, b.ActualReference)
		assert.Equal(t, reason, b.Reason)
	}
}

func TestClassifier_MatchedOutsideToleranceEscalates(t *testing.T) {
	pol := policy("0", 0)
	o := Outcome{
		Trade:      trade(1, "T1", "10000.00", "2024-01-10"),
		Candidate:  actual("R1", "10000.05", "2024-01-10"),
		Matched:    true,
		Basis:      BasisCash,
		Difference: dec("-0.05"),
		Score:      dec("0.05"),
	}

	b := NewClassifier(pol, DefaultSeverityPolicy()).Classify(o)
	require.NotNil(t, b)
	assert.Equal(t, domain.SeverityHigh, b.Severity)
	assert.Contains(t, b.Reason, "matched settlement R1: ")
}
