// Package export renders breaks for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/tlmsim/reconciler/internal/domain"
)

var breakHeader = []string{
	"Break ID",
	"Type",
	"Status",
	"Severity",
	"Difference",
	"Reason",
	"Trade ID",
	"Account",
	"Instrument",
	"Expected Value",
	"Actual Value",
	"Created At",
}

// WriteBreaksCSV writes one row per break. Fields containing a comma, a
// quote or a newline are quoted with inner quotes doubled; null values are
// written as empty fields.
func WriteBreaksCSV(w io.Writer, breaks []*domain.Break) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(breakHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, b := range breaks {
		diff, actual := "", ""
		if b.Difference.Valid {
			diff = b.Difference.Decimal.String()
		}
		if b.ActualValue.Valid {
			actual = b.ActualValue.Decimal.String()
		}
		row := []string{
			b.ID,
			string(b.Type),
			string(b.Status),
			string(b.Severity),
			diff,
			b.Reason,
			b.TradeRef,
			b.Account,
			b.Instrument,
			b.ExpectedValue.String(),
			actual,
			b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write break %s: %w", b.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
