package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type TradeStatus string

const (
	TradeUnmatched TradeStatus = "UNMATCHED"
	TradeMatched   TradeStatus = "MATCHED"
)

// ExpectedTrade is a row from the internal trade ledger. Everything except
// Status and MatchedSettlementID is immutable once ingested.
type ExpectedTrade struct {
	ID             string              `json:"id"`
	SourceFile     string              `json:"source_file"`
	TradeID        string              `json:"trade_id"`
	Account        string              `json:"account"`
	Instrument     string              `json:"instrument"`
	ISIN           string              `json:"isin,omitempty"`
	Side           Side                `json:"side"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.Decimal     `json:"price"`
	Currency       string              `json:"currency"`
	TradeDate      time.Time           `json:"trade_date"`
	SettlementDate time.Time           `json:"settlement_date"`
	CashAmount     decimal.NullDecimal `json:"cash_amount"`
	Fees           decimal.NullDecimal `json:"fees"`
	Status         TradeStatus         `json:"status"`

	// MatchedSettlementID is the settlement a MATCHED trade consumed.
	MatchedSettlementID string    `json:"matched_settlement_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Validate checks the fields the matching engine depends on.
func (t *ExpectedTrade) Validate() error {
	switch {
	case t.ID == "":
		return invalid("expected_trade", t.TradeID, "id", "is required")
	case t.TradeID == "":
		return invalid("expected_trade", t.ID, "trade_id", "is required")
	case t.Account == "":
		return invalid("expected_trade", t.TradeID, "account", "is required")
	case t.Instrument == "":
		return invalid("expected_trade", t.TradeID, "instrument", "is required")
	case !t.Side.Valid():
		return invalid("expected_trade", t.TradeID, "side", "must be BUY or SELL, got "+string(t.Side))
	case t.SettlementDate.IsZero():
		return invalid("expected_trade", t.TradeID, "settlement_date", "is required")
	case t.Quantity.IsNegative():
		return invalid("expected_trade", t.TradeID, "quantity", "must not be negative")
	}
	return nil
}
