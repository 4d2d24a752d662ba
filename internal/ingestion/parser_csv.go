package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// rawRow is one source record keyed by normalized column name.
type rawRow struct {
	line   int
	fields map[string]string
}

// normalizeKey folds header spellings like "trade_id", "TradeId" and
// "Trade ID" onto one key.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.TrimPrefix(k, "\ufeff")
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(k)
}

// get returns the first non-empty value among the given column names.
func (r rawRow) get(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.fields[normalizeKey(n)]); v != "" {
			return v
		}
	}
	return ""
}

// readCSVRows reads a headered CSV. Short rows are padded; blank lines are
// skipped by encoding/csv.
func readCSVRows(r io.Reader) ([]rawRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = normalizeKey(h)
	}

	var rows []rawRow
	lineNum := 1
	for {
		lineNum++
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		fields := make(map[string]string, len(keys))
		for i, k := range keys {
			if i < len(rec) {
				fields[k] = rec[i]
			}
		}
		rows = append(rows, rawRow{line: lineNum, fields: fields})
	}
	return rows, nil
}
