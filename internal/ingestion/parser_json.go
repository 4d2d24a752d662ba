package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonBatch is the wrapped upload form: {"records": [...]}.
type jsonBatch struct {
	Records []map[string]any `json:"records"`
}

// readJSONRows accepts either a bare array of objects or a batch wrapper.
// Numbers keep their literal text so decimals are not rounded through float64.
func readJSONRows(data []byte) ([]rawRow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	var objects []map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if trimmed[0] == '[' {
		if err := dec.Decode(&objects); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
	} else {
		var batch jsonBatch
		if err := dec.Decode(&batch); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		objects = batch.Records
	}

	rows := make([]rawRow, 0, len(objects))
	for i, obj := range objects {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case nil:
			case string:
				fields[normalizeKey(k)] = val
			case json.Number:
				fields[normalizeKey(k)] = val.String()
			default:
				fields[normalizeKey(k)] = fmt.Sprint(val)
			}
		}
		rows = append(rows, rawRow{line: i + 1, fields: fields})
	}
	return rows, nil
}
