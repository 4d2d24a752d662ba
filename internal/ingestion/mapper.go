package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlmsim/reconciler/internal/currency"
	"github.com/tlmsim/reconciler/internal/domain"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006/01/02"}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s %q is not a date", field, s)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q is not a number", field, s)
	}
	return d, nil
}

// parseOptionalDecimal returns an invalid NullDecimal for an empty field.
func parseOptionalDecimal(field, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(field, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func mapTrade(row rawRow, sourceFile string, createdAt time.Time) (*domain.ExpectedTrade, error) {
	t := &domain.ExpectedTrade{
		ID:         uuid.NewString(),
		SourceFile: sourceFile,
		TradeID:    row.get("trade_id"),
		Account:    row.get("account"),
		Instrument: row.get("instrument"),
		ISIN:       row.get("isin"),
		Side:       domain.Side(strings.ToUpper(row.get("side"))),
		Status:     domain.TradeUnmatched,
		CreatedAt:  createdAt,
	}

	var err error
	if t.Quantity, err = parseDecimal("quantity", row.get("quantity")); err != nil {
		return nil, err
	}
	if t.Price, err = parseDecimal("price", row.get("price")); err != nil {
		return nil, err
	}
	if t.Currency, err = currency.Normalize(row.get("currency")); err != nil {
		return nil, err
	}
	if t.TradeDate, err = parseDate("trade_date", row.get("trade_date")); err != nil {
		return nil, err
	}
	if t.SettlementDate, err = parseDate("settlement_date", row.get("settlement_date")); err != nil {
		return nil, err
	}
	if t.CashAmount, err = parseOptionalDecimal("cash_amount", row.get("cash_amount")); err != nil {
		return nil, err
	}
	if t.Fees, err = parseOptionalDecimal("fees", row.get("fees")); err != nil {
		return nil, err
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// mapSettlement falls back to the trade_id column when a feed carries no
// reference_id.
func mapSettlement(row rawRow, sourceFile string, createdAt time.Time) (*domain.ActualSettlement, error) {
	a := &domain.ActualSettlement{
		ID:          uuid.NewString(),
		SourceFile:  sourceFile,
		ReferenceID: row.get("reference_id", "trade_id"),
		Account:     row.get("account"),
		Instrument:  row.get("instrument"),
		Side:        domain.Side(strings.ToUpper(row.get("side"))),
		CreatedAt:   createdAt,
	}

	var err error
	if a.Quantity, err = parseDecimal("quantity", row.get("quantity")); err != nil {
		return nil, err
	}
	if a.CashAmount, err = parseOptionalDecimal("cash_amount", row.get("cash_amount")); err != nil {
		return nil, err
	}
	if a.SettlementDate, err = parseDate("settlement_date", row.get("settlement_date")); err != nil {
		return nil, err
	}
	if a.Currency, err = currency.Normalize(row.get("currency")); err != nil {
		return nil, err
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
