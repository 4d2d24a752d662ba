package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActualSettlement is a row from the externally reported settlement ledger.
// Side is empty when the source did not report one.
type ActualSettlement struct {
	ID             string              `json:"id"`
	SourceFile     string              `json:"source_file"`
	ReferenceID    string              `json:"reference_id"`
	Account        string              `json:"account"`
	Instrument     string              `json:"instrument"`
	Quantity       decimal.Decimal     `json:"quantity"`
	CashAmount     decimal.NullDecimal `json:"cash_amount"`
	SettlementDate time.Time           `json:"settlement_date"`
	Currency       string              `json:"currency"`
	Side           Side                `json:"side,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (a *ActualSettlement) Validate() error {
	switch {
	case a.ID == "":
		return invalid("actual_settlement", a.ReferenceID, "id", "is required")
	case a.ReferenceID == "":
		return invalid("actual_settlement", a.ID, "reference_id", "is required")
	case a.Account == "":
		return invalid("actual_settlement", a.ReferenceID, "account", "is required")
	case a.Instrument == "":
		return invalid("actual_settlement", a.ReferenceID, "instrument", "is required")
	case a.Side != "" && !a.Side.Valid():
		return invalid("actual_settlement", a.ReferenceID, "side", "must be BUY, SELL or empty, got "+string(a.Side))
	case a.SettlementDate.IsZero():
		return invalid("actual_settlement", a.ReferenceID, "settlement_date", "is required")
	}
	return nil
}

type UploadKind string

const (
	UploadExpected UploadKind = "EXPECTED"
	UploadActual   UploadKind = "ACTUAL"
)

// Upload records one ingested file.
type Upload struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	Uploader         string     `json:"uploader"`
	Kind             UploadKind `json:"type"`
	Hash             string     `json:"hash"`
	RowsProcessed    int        `json:"rows_processed"`
	ProcessingErrors []string   `json:"processing_errors"`
	CreatedAt        time.Time  `json:"created_at"`
}
