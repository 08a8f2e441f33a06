package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonRecord pairs a decoded object (for value lookup) with its raw bytes
// (for key-order recovery, since map iteration order is randomized).
type jsonRecord struct {
	raw    json.RawMessage
	values map[string]interface{}
}

// parseJSON tries, in order: a top-level array of objects, a top-level
// object with exactly one array-valued field, then newline-delimited
// objects. The first strategy to succeed wins; if all three fail the
// input is MalformedJson.
func parseJSON(raw []byte, headOnly bool, n int) (*Frame, error) {
	token := firstNonWhitespaceToken(raw)

	switch token {
	case '[':
		if frame, err := parseJSONArray(raw, headOnly, n); err == nil {
			return frame, nil
		}
	case '{':
		if frame, err := parseJSONWrappedArray(raw, headOnly, n); err == nil {
			return frame, nil
		}
	}

	if frame, err := parseJSONLines(raw, headOnly, n); err == nil {
		return frame, nil
	}

	return nil, newError("parse", "", ErrMalformedJson, fmt.Errorf("no JSON strategy matched"))
}

func firstNonWhitespaceToken(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

func parseJSONArray(raw []byte, headOnly bool, n int) (*Frame, error) {
	var rawRecords []json.RawMessage
	if err := json.Unmarshal(raw, &rawRecords); err != nil {
		return nil, err
	}
	records, err := decodeRecords(rawRecords)
	if err != nil {
		return nil, err
	}
	return framesFromRecords(records, headOnly, n, len(records))
}

// parseJSONWrappedArray unwraps a top-level object with exactly one
// array-valued field (e.g. {"data": [...]}) and treats it as (1).
func parseJSONWrappedArray(raw []byte, headOnly bool, n int) (*Frame, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	var arrayField string
	count := 0
	for key, val := range obj {
		var probe []json.RawMessage
		if json.Unmarshal(val, &probe) == nil {
			arrayField = key
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("expected exactly one array-valued field, found %d", count)
	}
	var rawRecords []json.RawMessage
	if err := json.Unmarshal(obj[arrayField], &rawRecords); err != nil {
		return nil, err
	}
	records, err := decodeRecords(rawRecords)
	if err != nil {
		return nil, fmt.Errorf("array field %q does not contain objects: %w", arrayField, err)
	}
	return framesFromRecords(records, headOnly, n, len(records))
}

func parseJSONLines(raw []byte, headOnly bool, n int) (*Frame, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var rawRecords []json.RawMessage
	truncated := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rawRecords = append(rawRecords, json.RawMessage(append([]byte{}, line...)))
		if headOnly && n > 0 && len(rawRecords) >= n {
			truncated = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rawRecords) == 0 {
		return nil, fmt.Errorf("no newline-delimited records found")
	}
	records, err := decodeRecords(rawRecords)
	if err != nil {
		return nil, err
	}
	total := len(records)
	if truncated {
		total = estimateDataRows(raw, false)
	}
	return framesFromRecords(records, headOnly, n, total)
}

func decodeRecords(rawRecords []json.RawMessage) ([]jsonRecord, error) {
	records := make([]jsonRecord, 0, len(rawRecords))
	for _, raw := range rawRecords {
		var values map[string]interface{}
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, err
		}
		records = append(records, jsonRecord{raw: raw, values: values})
	}
	return records, nil
}

// framesFromRecords builds a Frame whose columns are the union of keys
// across records in first-seen order, recovered from each record's raw
// bytes since Go's map iteration order is randomized.
func framesFromRecords(records []jsonRecord, headOnly bool, n int, totalEstimate int) (*Frame, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("empty record set")
	}

	limit := len(records)
	if headOnly && n > 0 && n < limit {
		limit = n
	}

	var columns []string
	seen := make(map[string]bool)
	for _, rec := range records[:limit] {
		keys, err := orderedObjectKeys(rec.raw)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}

	rows := make([][]string, 0, limit)
	for _, rec := range records[:limit] {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = stringifyJSONValue(rec.values[col])
		}
		rows = append(rows, row)
	}

	return &Frame{
		Columns:          columns,
		ColumnTypes:      inferColumnTypes(rows, len(columns), defaultSampleRows),
		Rows:             rows,
		RowCountEstimate: totalEstimate,
	}, nil
}

func stringifyJSONValue(v interface{}) string {
	if v == nil {
		return NullSentinel
	}
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		if tv == float64(int64(tv)) {
			return fmt.Sprintf("%d", int64(tv))
		}
		return fmt.Sprintf("%g", tv)
	case bool:
		if tv {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(tv)
		if err != nil {
			return NullSentinel
		}
		return string(b)
	}
}
